package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/rewrite"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

// console evaluates one REPL line at a time. A line whose first word is a
// known mnemonic is rewritten as a block (';' separates instructions);
// anything else runs as JavaScript with the rewriter bound in.
type console struct {
	ctx context.Context
	rw  *rewrite.Rewriter
	vm  *goja.Runtime
	out io.Writer
}

func newConsole(ctx context.Context, rw *rewrite.Rewriter, out io.Writer) *console {
	c := &console{ctx: ctx, rw: rw, vm: goja.New(), out: out}
	c.vm.Set("rewrite", func(text string) string {
		s, err := c.rewrite(text)
		if err != nil {
			return "error: " + err.Error()
		}
		return s
	})
	c.vm.Set("strategy", func(call goja.FunctionCall) goja.Value {
		if name := call.Argument(0); !goja.IsUndefined(name) {
			st, err := rewrite.ParseStrategy(name.String())
			if err != nil {
				panic(c.vm.NewGoError(err))
			}
			c.rw.SetStrategy(st)
		}
		return c.vm.ToValue(c.rw.Options().Strategy.String())
	})
	c.vm.Set("strict", func(on bool) bool {
		c.rw.SetStrict(on)
		return on
	})
	c.vm.Set("coverage", func() []interface{} {
		var out []interface{}
		for _, e := range c.rw.Table().Coverage() {
			out = append(out, map[string]interface{}{
				"op":        e.Op.String(),
				"handler":   e.Handler,
				"supported": e.Supported,
				"partial":   e.Partial,
			})
		}
		return out
	})
	c.vm.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Fprintln(c.out, arg.Export())
		}
	})
	return c
}

func (c *console) rewrite(text string) (string, error) {
	list, err := ir.ParseList(strings.ReplaceAll(text, ";", "\n"), 0x401000)
	if err != nil {
		return "", err
	}
	rep, err := c.rw.RewriteBlock(c.ctx, list)
	if err != nil {
		return "", err
	}
	return list.Disassemble() + rep.Tree().String(), nil
}

func isInstruction(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	_, ok := ir.ParseOpcode(fields[0])
	return ok
}

// eval handles one line and reports whether the console should exit.
func (c *console) eval(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "exit" || line == "quit":
		return true
	case isInstruction(line):
		s, err := c.rewrite(line)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			break
		}
		fmt.Fprint(c.out, s)
	default:
		v, err := c.vm.RunString(line)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			break
		}
		if !goja.IsUndefined(v) && !goja.IsNull(v) {
			fmt.Fprintln(c.out, v)
		}
	}
	return false
}

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive rewriting console",
		Long: `repl reads instructions and rewrites each line as one block. Lines that
are not instructions run as JavaScript with these functions defined:

  rewrite(text)     rewrite text and return the result
  strategy([name])  get or set the scratch register strategy
  strict(on)        set strict mode
  coverage()        list the handler of every wide opcode
  print(...)

Type 'exit' to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rw, err := a.rewriter()
			if err != nil {
				return err
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "avx2rw> ",
				HistoryFile: filepath.Join(os.TempDir(), "avx2rw_history.txt"),
				Stdout:      cmd.OutOrStdout(),
			})
			if err != nil {
				return fmt.Errorf("readline: %w", err)
			}
			defer rl.Close()

			c := newConsole(cmd.Context(), rw, rl.Stdout())
			fmt.Fprintf(c.out, "avx2rw %s, strategy %s. Type 'exit' to quit.\n", Version, rw.Options().Strategy)
			for {
				line, err := rl.Readline()
				if err != nil {
					return nil
				}
				if c.eval(line) {
					return nil
				}
			}
		},
	}
}
