package commands

import (
	"github.com/dyluth/clipsync/internal/printer"
	"github.com/dyluth/clipsync/pkg/client"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/spf13/cobra"
)

var (
	adduserDevice       deviceFlags
	adduserNotification string
)

var adduserCmd = &cobra.Command{
	Use:   "adduser USER",
	Short: "Register a device under a user",
	Long: `Register a device under a user, creating the user if needed.

A device belongs to at most one user. Registering a device that is already
owned by another user leaves it with its owner.

Examples:
  clipsync adduser alice --device phone --type IOS --notification <bark-key>
  clipsync adduser alice --device laptop --type Mac`,
	Args: cobra.ExactArgs(1),
	RunE: runAddUser,
}

var devicesCmd = &cobra.Command{
	Use:   "devices USER",
	Short: "List the devices registered under a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevices,
}

func init() {
	adduserDevice.register(adduserCmd)
	adduserCmd.Flags().StringVar(&adduserNotification, "notification", "", "Bark key used to notify the device of missed entries")

	rootCmd.AddCommand(adduserCmd)
	rootCmd.AddCommand(devicesCmd)
}

func runAddUser(cmd *cobra.Command, args []string) error {
	ref, err := adduserDevice.ref()
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	err = c.AddUser(cmd.Context(), args[0], client.NewDevice{
		Name:         ref.Name,
		Type:         ref.Type,
		Notification: adduserNotification,
	})
	if err != nil {
		return requestFailed("failed to add user", err, ref)
	}

	printer.Success("device %s(%s) registered for %s\n", ref.Name, ref.Type, args[0])
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	user, err := c.Devices(cmd.Context(), args[0])
	if err != nil {
		return requestFailed("failed to list devices", err, clipboard.DeviceRef{})
	}

	printer.Devices(user)
	return nil
}
