package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configFile string
	envFile    string
	debugLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "term-agent",
	Short: "Chat with a Gemini model that can use local and MCP tools",
	Long: `term-agent runs a conversation with a Gemini model. The model can call
workspace tools and tools from configured MCP servers; every call is
authorized by you first unless the tool is approved for the session.

Examples:
  term-agent chat
  term-agent ask "what does this repo do?"
  term-agent ask -f main.go "explain this file"
  term-agent tools
  term-agent sessions search "retry"`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is $XDG_CONFIG_HOME/term-agent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file to load (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&debugLog, "debug", "d", false, "Log at debug level")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
