package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/avx2rw/decode"
	"github.com/colorfulnotion/avx2rw/liveness"
	log "github.com/colorfulnotion/avx2rw/log"
	"github.com/spf13/cobra"
)

func (a *app) scanCmd() *cobra.Command {
	var (
		base    uint64
		listing bool
		live    bool
		chart   string
	)
	cmd := &cobra.Command{
		Use:   "scan FILE...",
		Short: "Decode raw machine code and count the vector instructions in it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var total decode.Census
			for _, path := range args {
				code, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				list, census, err := decode.Block(code, base)
				if errors.Is(err, io.ErrUnexpectedEOF) {
					log.Warn(log.CLIMonitoring, "truncated instruction at end of file", "file", path, "decoded", list.Len())
				} else if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				total.Merge(census)
				fmt.Fprintf(out, "%s: %s\n", path, census)
				if listing {
					fmt.Fprint(out, decode.Listing(list, code, base))
				}
				if live {
					bm := liveness.NewAnalyzer().ExamineList(list)
					fmt.Fprintf(out, "live: %s\n", bm)
					fmt.Fprintf(out, "footprint: %s\n", liveness.FootprintString(liveness.Footprint(list)))
				}
			}
			fmt.Fprint(out, total.Tree().String())
			if chart != "" {
				return writeChart(chart, total, "EVEX instructions")
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&base, "base", 0, "Load address of the first byte")
	cmd.Flags().BoolVarP(&listing, "listing", "l", false, "Print the decoded instructions")
	cmd.Flags().BoolVar(&live, "liveness", false, "Print the registers each file names")
	cmd.Flags().StringVar(&chart, "chart", "", "Write an HTML bar chart of the EVEX opcodes to this file")
	return cmd
}
