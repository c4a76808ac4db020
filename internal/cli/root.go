// Package cli implements the client command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atultiwari000/video-chat-app-2/internal/logging"
	"github.com/atultiwari000/video-chat-app-2/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "videocall",
	Short: "Two-party video calls over a lightweight signaling server",
	Long: `videocall pairs two participants into a room on a signaling server and
establishes a direct peer media transport between them, with in-room chat
relayed over the signaling channel.`,
}

// Execute runs the root command.
func Execute() {
	logging.Init(slog.LevelError)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
