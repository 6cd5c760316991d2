package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joescharf/qmt/internal/config"
	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/output"
)

var (
	chatSession    string
	chatShowEvents bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Prompt the agent",
	Long: `Send a prompt to the agent and print the reply.

Without arguments, starts an interactive loop reading prompts from
stdin. Ctrl-C cancels the active prompt; a second Ctrl-C exits.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return chatOnce(strings.Join(args, " "))
		}
		return chatLoop()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Prompt an existing session instead of the default")
	chatCmd.Flags().BoolVar(&chatShowEvents, "events", false, "Print agent events while the prompt runs")
	rootCmd.AddCommand(chatCmd)
}

func chatOnce(prompt string) error {
	r, err := getRunner()
	if err != nil {
		return err
	}
	defer r.Agent.Close()

	stopEvents := maybeStreamEvents(r)
	defer stopEvents()

	text, err := sendPrompt(r, prompt)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func chatLoop() error {
	r, err := getRunner()
	if err != nil {
		return err
	}
	defer r.Agent.Close()

	stopEvents := maybeStreamEvents(r)
	defer stopEvents()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		for range sigs {
			if chatSession != "" {
				r.Agent.CancelSession(chatSession)
			} else {
				ui.Warning("interrupted")
				os.Exit(130)
			}
		}
	}()

	ui.Info("interactive chat, empty line or Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(output.Cyan("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		text, err := sendPrompt(r, line)
		if err != nil {
			ui.Error("%v", err)
			continue
		}
		fmt.Println(text)
	}
	return scanner.Err()
}

func sendPrompt(r *config.Runner, prompt string) (string, error) {
	ctx := rootCmd.Context()
	if chatSession != "" {
		resp, err := r.Agent.Prompt(ctx, chatSession, []models.MessagePart{models.TextPart(prompt)})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
	return r.Agent.Chat(ctx, prompt)
}

func maybeStreamEvents(r *config.Runner) func() {
	if !chatShowEvents {
		return func() {}
	}
	events, cancel := r.Agent.SubscribeEvents()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(ev)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
