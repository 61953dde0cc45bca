package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/signal"
	"github.com/samsaffron/term-agent/internal/ui"
)

var (
	askFiles  []string
	askRender bool
	askYolo   bool
)

const maxAttachmentBytes = 256 * 1024

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and stream the answer",
	Long: `Ask the model one question, let it use tools, and print the answer.

Examples:
  term-agent ask "what does this repo do?"
  term-agent ask -f 'internal/**/*.go' "where is the retry logic?"
  git diff | term-agent ask "review this change"`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringArrayVarP(&askFiles, "file", "f", nil, "File or glob to attach (repeatable)")
	askCmd.Flags().BoolVar(&askRender, "render", false, "Render the answer as markdown when it completes")
	askCmd.Flags().BoolVar(&askYolo, "yolo", false, "Approve every tool call without asking")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	if stdin, err := readPipedStdin(); err != nil {
		return err
	} else if stdin != "" {
		question = strings.TrimSpace(question + "\n\n" + stdin)
	}
	if strings.TrimSpace(question) == "" {
		return errors.New("a question is required")
	}

	attachments, err := loadAttachments(askFiles)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	var opts []ui.PresenterOption
	if askRender {
		opts = append(opts, ui.WithMarkdown(ui.TerminalWidth(80)))
	}
	presenter := ui.NewPresenter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ui.NewPrompter(askYolo), opts...)

	a, err := newApp(ctx, presenter)
	if err != nil {
		return err
	}
	defer a.Close()
	presenter.Bind(a.conv)

	res, err := a.conv.Send(ctx, question, attachments...)
	if err != nil {
		return err
	}
	presenter.Wait()
	if res.Outcome != conversation.OutcomeCompleted && res.Outcome != conversation.OutcomeLocal {
		return fmt.Errorf("request ended: %s", res.Outcome)
	}
	return nil
}

// readPipedStdin returns stdin when it is not a terminal.
func readPipedStdin() (string, error) {
	if ui.IsInteractive() {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxAttachmentBytes))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// loadAttachments expands globs and reads each match.
func loadAttachments(patterns []string) ([]conversation.Attachment, error) {
	var out []conversation.Attachment
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			info, err := os.Stat(path)
			if err != nil {
				return nil, err
			}
			if info.IsDir() {
				continue
			}
			if info.Size() > maxAttachmentBytes {
				return nil, fmt.Errorf("%s is larger than %d bytes", path, maxAttachmentBytes)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			out = append(out, conversation.Attachment{Path: filepath.ToSlash(path), Content: string(data)})
		}
	}
	return out, nil
}
