package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamvault/streamvault/internal/config"
)

var cfgFile string

// rootCmd runs the service when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "streamvault",
	Short: "Download queue for IPTV streams and VOD assets",
	Long: `StreamVault downloads IPTV recordings and VOD assets one at a time.

Each task tries a fixed list of transports in order:
- HLS playlists are remuxed with ffmpeg
- live endpoints are recorded from a raw stream
- everything else is fetched with a direct HTTP download
The built-in download session is always the last fallback.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.streamvault/config.yaml)")
	rootCmd.AddCommand(serveCmd, fetchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
