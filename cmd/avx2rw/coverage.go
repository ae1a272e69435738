package main

import (
	"fmt"

	"github.com/colorfulnotion/avx2rw/rewrite"
	"github.com/spf13/cobra"
)

func (a *app) coverageCmd() *cobra.Command {
	var onlyMissing bool
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "List the handler installed for every wide opcode",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			entries := rewrite.NewTable().Coverage()
			supported := 0
			for _, e := range entries {
				if e.Supported {
					supported++
				}
				if onlyMissing && e.Supported && !e.Partial {
					continue
				}
				fmt.Fprintf(out, "%-16s %s\n", e.Op, e.Handler)
			}
			fmt.Fprintf(out, "%d/%d opcodes rewritten\n", supported, len(entries))
			return nil
		},
	}
	cmd.Flags().BoolVar(&onlyMissing, "missing", false, "Show only opcodes without a rewriting handler or with partial support")
	return cmd
}
