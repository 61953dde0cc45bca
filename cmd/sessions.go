package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/session"
	"github.com/samsaffron/term-agent/internal/ui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse recorded conversations",
	Long: `List, search and show conversations recorded while session.enabled is set.

Examples:
  term-agent sessions
  term-agent sessions search "rate limit"
  term-agent sessions show <id>`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var (
	sessionsLimit int
	sessionsJSON  bool
)

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsSearchCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of matches")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionStore() (*session.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Session.Path
	if path == "" {
		if path, err = session.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	return session.Open(path, zerolog.Nop())
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(cmd.Context(), sessionsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMSGS\tSUMMARY")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, formatAge(s.UpdatedAt), s.MessageCount, ui.Truncate(s.Summary, 60))
	}
	return tw.Flush()
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.Search(cmd.Context(), strings.Join(args, " "), sessionsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%s  %s\n    %s\n", r.SessionID, ui.Truncate(r.Summary, 60), r.Snippet)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sess, err := store.Get(ctx, args[0])
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("session %s not found", args[0])
	}
	if err != nil {
		return err
	}
	msgs, err := store.Messages(ctx, sess.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*session.Session
			Messages []session.Message `json:"messages"`
		}{sess, msgs})
	}
	printTranscript(out, sess, msgs)
	return nil
}

func printTranscript(out io.Writer, sess *session.Session, msgs []session.Message) {
	styles := ui.NewStyles(out)
	fmt.Fprintf(out, "%s  %s  %s\n\n", styles.Bold.Render(sess.ID), sess.Model, sess.CreatedAt.Local().Format(time.DateTime))
	for _, m := range msgs {
		fmt.Fprintf(out, "%s\n%s\n\n", styles.Prompt.Render(string(m.Role)), strings.TrimSpace(m.TextContent))
	}
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Local().Format(time.DateOnly)
}
