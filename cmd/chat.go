package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/signal"
	"github.com/samsaffron/term-agent/internal/ui"
)

var (
	chatRender bool
	chatYolo   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Ctrl-C stops the current request;
Ctrl-C at an empty prompt or Ctrl-D exits.

Commands inside the chat:
  /help       list commands
  /clear      start over with an empty history and no approvals
  /status     show session state
  /tools      list available tools
  /providers  list tool providers
  /reload     reconnect tool providers
  /quit       exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatRender, "render", false, "Render each answer as markdown when it completes")
	chatCmd.Flags().BoolVar(&chatYolo, "yolo", false, "Approve every tool call without asking")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	styles := ui.NewStyles(errOut)

	var opts []ui.PresenterOption
	opts = append(opts, ui.WithStyles(styles))
	if chatRender {
		opts = append(opts, ui.WithMarkdown(ui.TerminalWidth(80)))
	}
	presenter := ui.NewPresenter(out, errOut, ui.NewPrompter(chatYolo), opts...)

	a, err := newApp(ctx, presenter)
	if err != nil {
		return err
	}
	defer a.Close()
	presenter.Bind(a.conv)

	fmt.Fprintln(errOut, styles.Muted.Render(fmt.Sprintf("term-agent %s · %s · %d tools · /help for commands", Version, a.conv.Model(), a.dir.Len())))

	interrupts := signal.Interrupts(ctx)
	next, lines := lineReader(ctx, cmd.InOrStdin())

	for {
		fmt.Fprint(errOut, styles.Prompt.Render("> "))
		next <- struct{}{}

		var line string
		var ok bool
		select {
		case line, ok = <-lines:
		case <-interrupts:
			fmt.Fprintln(errOut)
			return nil
		}
		if !ok {
			fmt.Fprintln(errOut)
			return nil
		}

		prompt := strings.TrimSpace(line)
		switch prompt {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		done := make(chan error, 1)
		go func() {
			_, err := a.conv.Send(ctx, prompt)
			done <- err
		}()

	wait:
		for {
			select {
			case err := <-done:
				if err != nil {
					fmt.Fprintln(errOut, styles.Error.Render(err.Error()))
				}
				break wait
			case <-interrupts:
				a.conv.Stop()
			}
		}
		presenter.Wait()
	}
}

// lineReader reads one line from r each time a value is sent on next. The
// terminal is left alone between requests so an authorization prompt can
// own it. lines is closed at EOF.
func lineReader(ctx context.Context, r io.Reader) (chan<- struct{}, <-chan string) {
	next := make(chan struct{})
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for {
			select {
			case <-ctx.Done():
				return
			case <-next:
			}
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "read input: %v\n", err)
				}
				return
			}
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return next, lines
}
