package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/output"
)

var (
	eventsFrom uint64
	eventsTo   uint64
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the session event journal",
}

var eventsListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "Print journaled events for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return eventsListRun(args[0])
	},
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail <session-id>",
	Short: "Follow a session's journal as it grows",
	Long: `Poll the durable journal and print new events as they are appended.
Works across processes: a chat running elsewhere against the same
database shows up here.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return eventsTailRun(args[0])
	},
}

func init() {
	eventsListCmd.Flags().Uint64Var(&eventsFrom, "from", 0, "First sequence number (inclusive)")
	eventsListCmd.Flags().Uint64Var(&eventsTo, "to", 0, "Last sequence number (0 = no bound)")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}

func eventsListRun(sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	events, err := s.LoadSessionStream(context.Background(), sessionID, eventsFrom, eventsTo)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		ui.Info("No journaled events for %s", sessionID)
		return nil
	}
	for _, ev := range events {
		printEvent(*ev)
	}
	return nil
}

const tailPollInterval = 500 * time.Millisecond

func eventsTailRun(sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lastSeq uint64
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		events, err := s.LoadSessionStream(ctx, sessionID, lastSeq+1, 0)
		if err != nil {
			return err
		}
		for _, ev := range events {
			printEvent(*ev)
			if ev.Seq > lastSeq {
				lastSeq = ev.Seq
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printEvent(ev models.AgentEvent) {
	ts := ev.Timestamp.Local().Format(time.TimeOnly)
	kind := output.Cyan(string(ev.Kind))
	detail := eventDetail(ev)
	if detail != "" {
		fmt.Printf("%s %6d %s %s\n", ts, ev.Seq, kind, detail)
	} else {
		fmt.Printf("%s %6d %s\n", ts, ev.Seq, kind)
	}
}

func eventDetail(ev models.AgentEvent) string {
	switch ev.Kind {
	case models.EventPromptReceived, models.EventUserMessageStored,
		models.EventAssistantMessageStored, models.EventMiddlewareInjected:
		return truncate(ev.Content, 120)
	case models.EventLLMRequestStart:
		return fmt.Sprintf("messages=%d", ev.MessageCount)
	case models.EventLLMRequestEnd:
		detail := fmt.Sprintf("tool_calls=%d", ev.ToolCalls)
		if ev.Usage != nil {
			detail += fmt.Sprintf(" in=%d out=%d", ev.Usage.InputTokens, ev.Usage.OutputTokens)
		}
		return detail
	case models.EventToolCallStart:
		return fmt.Sprintf("%s %s", ev.ToolName, truncate(string(ev.Arguments), 80))
	case models.EventToolCallEnd:
		if ev.IsError {
			return fmt.Sprintf("%s %s", ev.ToolName, output.Red(truncate(ev.Result, 80)))
		}
		return fmt.Sprintf("%s %s", ev.ToolName, truncate(ev.Result, 80))
	case models.EventSnapshotStart:
		return fmt.Sprintf("policy=%s", ev.Policy)
	case models.EventSnapshotEnd:
		return ev.Summary
	case models.EventCompactionStart:
		return fmt.Sprintf("tokens~%d", ev.TokenEstimate)
	case models.EventCompactionEnd:
		return fmt.Sprintf("summary_len=%d", ev.SummaryLen)
	case models.EventMiddlewareStopped:
		return fmt.Sprintf("%s %s", ev.Reason, ev.Message)
	case models.EventError:
		return output.Red(ev.Message)
	}
	return ""
}
