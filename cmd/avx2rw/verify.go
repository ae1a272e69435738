package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/rewrite"
	"github.com/colorfulnotion/avx2rw/sim"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
)

var (
	verifyIndices = []int{0, 3, 10, 11, 15, 16, 20, 31}
	wideIndices   = []int{0, 3, 10, 16, 31}
)

// verifyTexts lists single instructions covering every operand pattern
// the engine distinguishes.
func verifyTexts() []string {
	var out []string
	for _, class := range []string{"xmm", "ymm"} {
		for _, d := range verifyIndices {
			for _, s1 := range verifyIndices {
				for _, s2 := range verifyIndices {
					out = append(out, fmt.Sprintf("vpsubd %s%d, %s%d, %s%d", class, d, class, s1, class, s2))
				}
				out = append(out,
					fmt.Sprintf("vpabsd %s%d, %s%d", class, d, class, s1),
					fmt.Sprintf("vpshufd %s%d, %s%d, 0x4e", class, d, class, s1),
				)
			}
		}
	}
	for _, d := range wideIndices {
		for _, s1 := range wideIndices {
			for _, s2 := range wideIndices {
				out = append(out, fmt.Sprintf("vpaddq zmm%d, zmm%d, zmm%d", d, s1, s2))
			}
			out = append(out,
				fmt.Sprintf("vpsllq zmm%d, zmm%d, xmm3", d, s1),
				fmt.Sprintf("vpshufd zmm%d, zmm%d, 0x1b", d, s1),
			)
		}
	}
	return out
}

type verifyResult struct {
	strategy rewrite.Strategy
	blocks   int
	cases    map[string]int
	failures []string
}

func (r verifyResult) tree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s: %d blocks, %d mismatches", r.strategy, r.blocks, len(r.failures)))
	cases := tree.AddBranch("cases")
	for _, label := range sortedLabels(r.cases) {
		cases.AddNode(fmt.Sprintf("%s: %d", label, r.cases[label]))
	}
	return tree
}

func sortedLabels(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// verifyBlock rewrites text and runs the result on a machine lowered from
// the same seeded state the reference executes text on.
func verifyBlock(ctx context.Context, rw *rewrite.Rewriter, text string, seed uint64, res *verifyResult) error {
	list, err := ir.ParseList(text, 0x401000)
	if err != nil {
		return err
	}
	var want sim.Logical
	want.Seed(seed)
	m := sim.Lower(&want, ^seed)
	if err := want.ExecList(list); err != nil {
		return fmt.Errorf("reference %q: %w", text, err)
	}
	rep, err := rw.RewriteBlock(ctx, list)
	if err != nil {
		return err
	}
	res.blocks++
	for label, n := range rep.Cases {
		res.cases[label] += n
	}
	if err := m.Run(list.First()); err != nil {
		return fmt.Errorf("%q: %w\n%s", text, err, list.Disassemble())
	}
	if diff := sim.Diff(&want, m.Lift()); len(diff) > 0 {
		res.failures = append(res.failures, fmt.Sprintf("%s\n%s  %s", strings.ReplaceAll(text, "\n", "; "),
			list.Disassemble(), strings.Join(diff, "\n  ")))
	}
	return nil
}

func runVerify(ctx context.Context, w io.Writer, rw *rewrite.Rewriter, random int, seed int64) (verifyResult, error) {
	res := verifyResult{strategy: rw.Options().Strategy, cases: map[string]int{}}
	texts := verifyTexts()
	for i, text := range texts {
		if err := verifyBlock(ctx, rw, text, uint64(i)*0x9e3779b97f4a7c15, &res); err != nil {
			return res, err
		}
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < random; i++ {
		block := make([]string, 2+rng.Intn(7))
		for j := range block {
			block[j] = texts[rng.Intn(len(texts))]
		}
		if err := verifyBlock(ctx, rw, strings.Join(block, "\n"), rng.Uint64(), &res); err != nil {
			return res, err
		}
	}
	fmt.Fprint(w, res.tree().String())
	return res, nil
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		random int
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every rewrite pattern on a simulated machine",
		Long: `verify rewrites a fixed set of instructions covering every operand
pattern, plus random blocks built from them, and runs each result on a
simulated 16-register machine. The registers must end up as the original
instructions leave them on a 32-register machine. Without --strategy every
strategy is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategies := []rewrite.Strategy{rewrite.StrategyAuto, rewrite.StrategyFixed, rewrite.StrategyDynamic, rewrite.StrategyRemap}
			if cmd.Flags().Changed("strategy") || a.cfgPath != "" {
				st, err := rewrite.ParseStrategy(a.cfg.Strategy)
				if err != nil {
					return err
				}
				strategies = []rewrite.Strategy{st}
			}
			rw, err := a.rewriter()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, st := range strategies {
				rw.SetStrategy(st)
				res, err := runVerify(cmd.Context(), out, rw, random, seed)
				if err != nil {
					return fmt.Errorf("%s: %w", st, err)
				}
				for i, f := range res.failures {
					if i == 5 {
						fmt.Fprintf(out, "... %d more\n", len(res.failures)-i)
						break
					}
					fmt.Fprintln(out, f)
				}
				failed += len(res.failures)
			}
			if failed > 0 {
				return fmt.Errorf("%d mismatches", failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&random, "random", 200, "Number of random multi-instruction blocks per strategy")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for the random blocks")
	return cmd
}
