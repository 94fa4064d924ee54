package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "arachno-supervisor",
		Short: "Motion supervisor for a cable-driven winch rig",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("please select a command")
		},
	}

	cmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "increase verbosity to the debug level")

	cmd.AddCommand(newServeCommand(&debug))
	cmd.AddCommand(newStatusCommand())

	return cmd
}
