package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefionn/tempo/internal/daemon"
	"github.com/codefionn/tempo/internal/pidfile"
	"github.com/codefionn/tempo/internal/pprof"
	"github.com/codefionn/tempo/internal/socketutil"
)

var (
	daemonQuiet bool
	profiling   pprof.Config
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the tracking daemon in the foreground",
	Long: `Run the tracking daemon in the foreground.

The daemon recovers sessions left open by a previous crash, then listens on
the configured Unix socket until it receives SIGINT, SIGTERM or a 'tempo
shutdown' request. Run it from a user service manager (systemd --user,
launchd) to keep it in the background.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if pid, ok := pidfile.New(cfg.PidPath).Running(); ok {
			fmt.Printf("%s (pid %d)\n", color.GreenString("running"), pid)
		} else {
			fmt.Println(color.YellowString("not running"))
		}
		fmt.Println(socketutil.GetSocketDetectionInfo(cfg))
		return nil
	},
}

func init() {
	daemonCmd.Flags().BoolVarP(&daemonQuiet, "quiet", "q", false, "Do not mirror log output to stderr")
	daemonCmd.Flags().StringVar(&profiling.HTTPAddr, "pprof", "", "Serve pprof on this address, e.g. localhost:6060")
	daemonCmd.Flags().StringVar(&profiling.CPUProfile, "cpuprofile", "", "Write a CPU profile to this file")
	daemonCmd.Flags().StringVar(&profiling.HeapProfile, "memprofile", "", "Write a heap profile to this file on exit")
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	opts := daemon.Options{
		ConfigPath:    path,
		HandleSignals: true,
		Profiling:     profiling,
	}
	if !daemonQuiet {
		opts.LogMirror = os.Stderr
	}

	fmt.Fprintf(os.Stderr, "%s listening on %s\n", color.CyanString("tempo daemon"), cfg.Socket.Path)
	return daemon.New(cfg, opts).Run(context.Background())
}
