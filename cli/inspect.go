package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hermeticlab/hermetic/elfmod"
)

var inspectCmd = &cobra.Command{
	Use:          "inspect <shared object>",
	Short:        "Describe a shared object's linking surface",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := elfmod.Describe(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "machine: %s\n", info.Machine)
		fmt.Fprintf(out, "type: %s\n", info.Type)
		for _, n := range info.Needed {
			fmt.Fprintf(out, "needed: %s\n", n)
		}
		slices.Sort(info.Imports)
		for _, s := range info.Imports {
			fmt.Fprintf(out, "import: %s\n", s)
		}
		slices.Sort(info.Exports)
		for _, s := range info.Exports {
			fmt.Fprintf(out, "export: %s\n", s)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
