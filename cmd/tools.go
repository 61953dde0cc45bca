package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samsaffron/term-agent/internal/signal"
	"github.com/samsaffron/term-agent/internal/ui"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the model can call",
	Long: `Start every tool provider, list the tools they declare and show the state
of each configured MCP server.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print declarations as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	a, err := newBaseApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.dir.Refresh(ctx); err != nil {
		return err
	}
	decls := a.dir.ListDeclarations()
	out := cmd.OutOrStdout()

	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(decls)
	}

	styles := ui.NewStyles(out)
	if len(decls) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No tools available."))
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, d := range decls {
			_, provider, _ := a.dir.Lookup(d.Name)
			desc, _, _ := strings.Cut(strings.TrimSpace(d.Description), "\n")
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, provider, ui.Truncate(desc, 80))
		}
		tw.Flush()
	}

	states := a.mcp.States()
	if len(states) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Bold.Render("MCP servers"))
	for _, s := range states {
		line := fmt.Sprintf("%s: %s", s.Name, s.Status)
		if s.Error != nil {
			line += " (" + s.Error.Error() + ")"
		}
		fmt.Fprintln(out, "  "+line)
	}
	return nil
}
