// Lumenctl discovers and controls smart lights on the local network.
//
// It broadcasts a discovery request over UDP, fetches each light's label,
// and then either opens the interactive control panel or runs a one-shot
// command.
//
// Usage:
//
//	lumenctl [command] [flags]
//
// Running without arguments in a terminal launches the control panel. When
// stdout is not a terminal it prints the device list instead.
// See 'lumenctl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/ui"
	"github.com/muurk/lumen/internal/ui/panel"
	"github.com/muurk/lumen/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lumenctl",
	Short: "LAN smart light control",
	Long: `Discover and control smart lights on the local network.

Lights are found with a UDP broadcast (and optionally mDNS), then labelled.
Commands are sent directly to each light and confirmed by its reply.

If no command is specified, the interactive control panel launches.`,
	Version:           version.Get().String(),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runPanel,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("lumenctl {{.Version}}\n")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print version information",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil }, // no config or logging needed
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lumenctl %s\n", version.Get())
	},
}

func runPanel(cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal(os.Stdout) {
		return runList(cmd, args)
	}

	c, err := openController()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := panel.Run(cmd.Context(), c, panel.WithTransition(cfg.Command.Transition)); err != nil {
		return fmt.Errorf("control panel: %w", err)
	}
	return nil
}
