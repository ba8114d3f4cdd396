package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	serverURL string
)

// DefaultServerURL is used by the client commands when --server and CLIPSYNC_SERVER are unset.
const DefaultServerURL = "http://localhost:22010"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clipsync",
	Short: "clipsync - clipboard sync across your devices",
	Long: `clipsync keeps one clipboard per user and shares it between that user's
registered devices.

A device pushes an entry; connected devices receive it immediately over a
websocket and offline devices pick it up with a pull.

Run "clipsync serve" to start the server, then use the client commands
(adduser, devices, push, pull, watch) against it.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func defaultServerURL() string {
	if v := os.Getenv("CLIPSYNC_SERVER"); v != "" {
		return v
	}
	return DefaultServerURL
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL(), "clipsync server URL (env CLIPSYNC_SERVER)")
}
