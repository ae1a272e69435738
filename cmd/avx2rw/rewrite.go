package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/colorfulnotion/avx2rw/decode"
	"github.com/colorfulnotion/avx2rw/ir"
	log "github.com/colorfulnotion/avx2rw/log"
	"github.com/spf13/cobra"
)

// input gathers one block from the command line: Intel syntax arguments,
// a text file with one instruction per line, or hex encoded machine code.
type input struct {
	file string
	hex  string
	addr uint64
}

func (in *input) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&in.file, "file", "f", "", "Read instructions from a file, one per line (\"-\" for stdin)")
	cmd.Flags().StringVar(&in.hex, "hex", "", "Decode hex encoded machine code instead of assembly text")
	cmd.Flags().Uint64Var(&in.addr, "addr", 0x401000, "Address of the first instruction")
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", "\t", "", "\n", "", ",", "", "0x", "").Replace(s)
	return hex.DecodeString(s)
}

func (in *input) block(stdin io.Reader, args []string) (*ir.List, error) {
	if in.hex != "" {
		code, err := parseHex(in.hex)
		if err != nil {
			return nil, fmt.Errorf("--hex: %w", err)
		}
		list, census, err := decode.Block(code, in.addr)
		log.Debug(log.CLIMonitoring, "decoded", "census", census.String())
		return list, err
	}
	text := strings.Join(args, "\n")
	switch in.file {
	case "":
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		text = string(b)
	default:
		b, err := os.ReadFile(in.file)
		if err != nil {
			return nil, err
		}
		text = string(b)
	}
	list, err := ir.ParseList(text, in.addr)
	if err != nil {
		return nil, err
	}
	if list.Len() == 0 {
		return nil, fmt.Errorf("no instructions given")
	}
	return list, nil
}

func (a *app) rewriteCmd() *cobra.Command {
	var in input
	var quiet bool
	cmd := &cobra.Command{
		Use:   "rewrite [instruction...]",
		Short: "Rewrite one block of instructions for sixteen AVX2 registers",
		Example: `  avx2rw rewrite "vpaddd ymm3, ymm20, ymm3"
  avx2rw rewrite --strategy remap "vpaddd ymm0, ymm16, ymm17" "vpabsd ymm1, ymm30"
  avx2rw rewrite --hex "62 a1 6d 40 fe cb"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := in.block(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			rw, err := a.rewriter()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !quiet {
				fmt.Fprintf(out, "original:\n%s", list.Disassemble())
			}
			rep, err := rw.RewriteBlock(cmd.Context(), list)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(out, "rewritten:\n")
			}
			fmt.Fprint(out, list.Disassemble())
			if !quiet {
				fmt.Fprint(out, rep.Tree().String())
			}
			return nil
		},
	}
	in.register(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the rewritten block")
	return cmd
}
