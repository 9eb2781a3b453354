package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/codefionn/tempo/internal/config"
)

var (
	configFile string
	socketPath string
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tempo",
	Short: "Automatic per-project time tracking",
	Long: `Tempo tracks how long you work on each project.

A background daemon receives activity signals from shell hooks and editor
plugins, resolves them to project roots and keeps one session per project,
pausing on idle and host sleep.

Start the daemon with 'tempo daemon', then wire your shell prompt to
'tempo signal terminal "$PWD"'.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	log.SetFlags(0)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (YAML or JSON, default: "+config.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print responses as JSON")
}

// loadConfig reads the configuration selected by the global flags.
func loadConfig() (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if socketPath != "" {
		cfg.Socket.Path = config.ExpandPath(socketPath)
	}
	return cfg, path, nil
}
