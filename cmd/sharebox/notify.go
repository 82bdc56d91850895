package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Monas-project/Prot-Prototype/internal/components/registration"
)

func newNotifyCmd(g *globalFlags) *cobra.Command {
	var in registration.Input
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Record a registered share and notify its recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := g.newDeps(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.Registration.Register(cmd.Context(), in)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			if err != nil {
				if res != nil && res.Recorded {
					return fmt.Errorf("share recorded as %s but not notified: %w", res.MessageID, err)
				}
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.FileHash, "file-hash", "", "Content hash of the shared file")
	f.StringVar(&in.FileLocator, "file-locator", "", "Locator (CID) of the shared file")
	f.StringVar(&in.Sender, "sender", "", "Sender address")
	f.StringVar(&in.Recipient, "recipient", "", "Recipient address")
	for _, name := range []string{"file-hash", "file-locator", "sender", "recipient"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
