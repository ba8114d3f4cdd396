package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dyluth/clipsync/internal/printer"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/spf13/cobra"
)

var (
	pushDevice deviceFlags
	pushImage  string

	pullDevice deviceFlags
)

var pushCmd = &cobra.Command{
	Use:   "push [TEXT]",
	Short: "Push a clipboard entry from a device",
	Long: `Push a clipboard entry on behalf of a device.

The text is taken from the argument, or from stdin when no argument is given.
With --image the file is sent base64 encoded as an image entry.

Examples:
  clipsync push "hello" --device laptop --type Mac
  pbpaste | clipsync push --device laptop --type Mac
  clipsync push --image shot.png --device laptop --type Mac`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch the latest entry if this device has not seen it",
	Long: `Fetch the latest clipboard entry for a device.

An entry is returned at most once per device, and not at all if the device
already received it live. "(nothing new)" is printed otherwise.`,
	Args: cobra.NoArgs,
	RunE: runPull,
}

func init() {
	pushDevice.register(pushCmd)
	pushCmd.Flags().StringVar(&pushImage, "image", "", "Push the given image file instead of text")
	pullDevice.register(pullCmd)

	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
}

// buildEntry reads the entry to push from args, --image or in.
func buildEntry(args []string, image string, in io.Reader) (clipboard.Entry, error) {
	if image != "" {
		if len(args) > 0 {
			return clipboard.Entry{}, fmt.Errorf("cannot combine TEXT with --image")
		}
		data, err := os.ReadFile(image)
		if err != nil {
			return clipboard.Entry{}, fmt.Errorf("failed to read image: %w", err)
		}
		return clipboard.NewEntry(base64.StdEncoding.EncodeToString(data), clipboard.EntryTypeImage), nil
	}

	if len(args) == 1 {
		return clipboard.NewEntry(args[0], clipboard.EntryTypeText), nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return clipboard.Entry{}, fmt.Errorf("failed to read stdin: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return clipboard.Entry{}, fmt.Errorf("nothing to push")
	}
	return clipboard.NewEntry(text, clipboard.EntryTypeText), nil
}

func runPush(cmd *cobra.Command, args []string) error {
	ref, err := pushDevice.ref()
	if err != nil {
		return err
	}

	entry, err := buildEntry(args, pushImage, cmd.InOrStdin())
	if err != nil {
		return printer.Error("nothing pushed", err.Error(), []string{"Pass the text as an argument, pipe it on stdin, or use --image FILE."})
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Push(cmd.Context(), ref, entry); err != nil {
		return requestFailed("push failed", err, ref)
	}

	printer.Success("pushed %s\n", entry.String())
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	ref, err := pullDevice.ref()
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	entry, err := c.Pull(cmd.Context(), ref)
	if err != nil {
		return requestFailed("pull failed", err, ref)
	}

	printer.Entry(entry)
	return nil
}
