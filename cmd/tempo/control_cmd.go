package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/socketclient"
	"github.com/codefionn/tempo/internal/socketutil"
)

var (
	sessionContext string
	unarchive      bool
)

var signalCmd = &cobra.Command{
	Use:   "signal <terminal|ide> [path]",
	Short: "Report activity in a directory",
	Long: `Report activity in a directory. Meant for shell prompt hooks and editor
plugins; the path defaults to the current directory.

Rate-limited signals are accepted silently.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := pathArg(args[1:])
		if err != nil {
			return err
		}
		activityType, _ := cmd.Flags().GetString("type")
		return withClient(func(ctx context.Context, c *socketclient.Client) error {
			ack, err := c.Activity(ctx, args[0], path, activityType)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(ack)
			}
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start [path]",
	Short: "Start tracking a project, or resume the current one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			p, err := pathArg(args)
			if err != nil {
				return err
			}
			path = p
		}
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Start(ctx, path, sessionContext)
		})
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch [path]",
	Short: "Switch tracking to another project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := pathArg(args)
		if err != nil {
			return err
		}
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Switch(ctx, path, sessionContext)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tracking",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Stop(ctx)
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause tracking until 'tempo resume'",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Pause(ctx)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Resume(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Status(ctx)
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive [path]",
	Short: "Archive a project so its activity is ignored",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := pathArg(args)
		if err != nil {
			return err
		}
		return statusCommand(func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error) {
			return c.Archive(ctx, path, !unarchive)
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *socketclient.Client) error {
			rtt, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pong in %s\n", rtt)
			return nil
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Close open sessions and stop the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *socketclient.Client) error {
			return c.Shutdown(ctx)
		})
	},
}

func init() {
	signalCmd.Flags().String("type", "", "Activity type, e.g. command or save")
	for _, cmd := range []*cobra.Command{startCmd, switchCmd} {
		cmd.Flags().StringVar(&sessionContext, "context", "manual", "Session context: manual, terminal, ide or linked")
	}
	archiveCmd.Flags().BoolVar(&unarchive, "undo", false, "Restore an archived project")

	rootCmd.AddCommand(signalCmd, startCmd, switchCmd, stopCmd, pauseCmd, resumeCmd, statusCmd, archiveCmd, pingCmd, shutdownCmd)
}

// pathArg returns the absolute form of the optional path argument, or the
// working directory.
func pathArg(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return os.Getwd()
	}
	return filepath.Abs(args[0])
}

func withClient(fn func(ctx context.Context, c *socketclient.Client) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout30Seconds)
	defer cancel()

	client, err := socketutil.ConnectToSocket(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(ctx, client)
}

func statusCommand(fn func(ctx context.Context, c *socketclient.Client) (*socketclient.Status, error)) error {
	return withClient(func(ctx context.Context, c *socketclient.Client) error {
		status, err := fn(ctx, c)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(status)
		}
		printStatus(os.Stdout, status)
		return nil
	})
}
