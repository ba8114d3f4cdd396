package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/clipsync/internal/printer"
	"github.com/spf13/cobra"
)

var watchDevice deviceFlags

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print entries pushed by the user's other devices as they arrive",
	Long: `Connect to the server's live channel as a device and print every entry
pushed by the user's other devices until interrupted.

Entries pushed before the connection was opened are not replayed; run
"clipsync pull" first to pick up a missed entry.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchDevice.register(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ref, err := watchDevice.ref()
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := c.Watch(ctx, ref)
	if err != nil {
		return requestFailed("failed to connect", err, ref)
	}
	defer w.Close()

	printer.Step("watching as %s(%s), press Ctrl+C to stop\n", ref.Name, ref.Type)
	for entry := range w.Events() {
		printer.Entry(entry)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err, ok := <-w.Errors(); ok && err != nil {
		return requestFailed("watch ended", err, ref)
	}
	return nil
}

