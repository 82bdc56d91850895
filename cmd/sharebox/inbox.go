package main

import (
	"github.com/spf13/cobra"
)

func newInboxCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox <address>",
		Short: "Show the merged inbox of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := g.newDeps(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.Notifier.Inbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newOutboxCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "outbox <address>",
		Short: "Show the shares an address has sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := g.newDeps(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			msgs, err := d.Registration.Outbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		},
	}
}
