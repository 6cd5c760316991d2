package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/output"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(args[0])
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx, sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions. Use 'qmt chat' to start one.")
		return nil
	}

	table := ui.Table([]string{"ID", "CWD", "UPDATED", "PARENT"})
	for _, sess := range sessions {
		parent := sess.ParentSessionID
		if parent == "" {
			parent = "-"
		}
		table.Append([]string{
			output.Cyan(sess.PublicID),
			sess.Cwd,
			sess.UpdatedAt.Local().Format(time.DateTime),
			parent,
		})
	}
	return table.Render()
}

func sessionsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	ui.Info("session %s", output.Cyan(sess.PublicID))
	ui.Info("cwd: %s", sess.Cwd)
	ui.Info("created: %s", sess.CreatedAt.Local().Format(time.DateTime))
	if sess.ParentSessionID != "" {
		ui.Info("parent: %s", sess.ParentSessionID)
	}
	if sess.CurrentSnapshot != "" {
		ui.Info("snapshot: %s", sess.CurrentSnapshot)
	}

	messages, err := s.ListMessages(ctx, sess.PublicID)
	if err != nil {
		return err
	}
	for _, m := range messages {
		fmt.Printf("\n%s %s\n", roleLabel(m.Role), m.CreatedAt.Local().Format(time.TimeOnly))
		for _, p := range m.Parts {
			printPart(p)
		}
	}
	return nil
}

func roleLabel(role models.Role) string {
	switch role {
	case models.RoleUser:
		return output.Green("user")
	case models.RoleAssistant:
		return output.Cyan("assistant")
	default:
		return output.Yellow(string(role))
	}
}

func printPart(p models.MessagePart) {
	switch p.Type {
	case models.PartText:
		fmt.Println(indent(p.Content))
	case models.PartToolUse:
		fmt.Printf("  [tool_use %s] %s %s\n", p.CallID, p.Name, string(p.Arguments))
	case models.PartToolResult:
		marker := ""
		if p.IsError {
			marker = output.Red(" (error)")
		}
		fmt.Printf("  [tool_result %s]%s %s\n", p.CallID, marker, truncate(p.Result, 200))
	case models.PartSnapshot:
		fmt.Printf("  [snapshot %s] %s\n", p.RootHash, p.DiffSummary)
	}
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
