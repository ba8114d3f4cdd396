package commands

import (
	"github.com/dyluth/clipsync/internal/printer"
	"github.com/dyluth/clipsync/pkg/client"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/spf13/cobra"
)

// deviceFlags are the --device/--type pair shared by the client commands.
type deviceFlags struct {
	name       string
	deviceType string
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "device", "d", "", "Device name (required)")
	cmd.Flags().StringVarP(&f.deviceType, "type", "t", "", "Device type: IOS, Android, Windows, Mac or Linux (required)")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("type")
}

func (f *deviceFlags) ref() (clipboard.DeviceRef, error) {
	ref := clipboard.DeviceRef{Name: f.name, Type: f.deviceType}
	if _, err := ref.Parse(); err != nil {
		return ref, printer.Error("invalid device", err.Error(), []string{
			"Use one of the device types: IOS, Android, Windows, Mac, Linux (case-sensitive).",
		})
	}
	return ref, nil
}

func newClient() (*client.Client, error) {
	c, err := client.New(serverURL, nil)
	if err != nil {
		return nil, printer.Error("invalid server URL", err.Error(), []string{"Pass --server http://host:22010 or set CLIPSYNC_SERVER."})
	}
	return c, nil
}

// requestFailed formats an error returned by the client.
func requestFailed(title string, err error, ref clipboard.DeviceRef) error {
	ctx := map[string]string{"Server": serverURL}
	if ref.Name != "" {
		ctx["Device"] = ref.Name + "(" + ref.Type + ")"
	}
	return printer.ErrorWithContext(title, err.Error(), ctx, nil)
}
