package rewrite

import (
	"fmt"
	"strings"
	"testing"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/remap"
	"github.com/colorfulnotion/avx2rw/rwerrors"
	"github.com/colorfulnotion/avx2rw/sim"
	"github.com/stretchr/testify/require"
)

func rewriteOne(t *testing.T, text string, st Strategy) (Chain, error) {
	t.Helper()
	list, err := ir.ParseList(text, 0x401000)
	require.NoError(t, err)
	in := list.First()
	c := &Context{Engine: NewEngine(remap.NewSession()), List: list, Strategy: st}
	return NewTable().Dispatch(in.Op).Rewrite(c, in)
}

func chainText(c Chain) []string {
	var out []string
	for _, in := range ir.ChainSlice(c.First) {
		out = append(out, in.String())
	}
	return out
}

// roundTrip rewrites text and checks that the chain leaves every logical
// register as the original instruction would.
func roundTrip(t *testing.T, text string, st Strategy) Chain {
	t.Helper()
	var want sim.Logical
	want.Seed(0x9e3779b9)
	m := sim.Lower(&want, 0x5a5a5a5a)
	require.NoError(t, want.Exec(ir.MustParse(text)), text)

	c, err := rewriteOne(t, text, st)
	require.NoError(t, err, text)
	require.NotNil(t, c.First, text)
	require.NoError(t, m.Run(c.First), "%s\n%s", text, ir.DisassembleChain(c.First))
	require.Empty(t, sim.Diff(&want, m.Lift()), "%s [%s]\n%s", text, st, ir.DisassembleChain(c.First))
	return c
}

func TestBinOpSrc1Extended(t *testing.T) {
	c, err := rewriteOne(t, "vpaddd ymm3, ymm20, ymm3", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, 1, c.Case)
	require.Equal(t, StrategyFixed, c.Strategy)
	require.Equal(t, []string{
		"vmovdqu ymmword ptr tls:[0x280], ymm10",
		"vmovdqu ymm10, ymmword ptr tls:[0x500]",
		"vpaddd ymm3, ymm10, ymm3",
		"vmovdqu ymm10, ymmword ptr tls:[0x280]",
	}, chainText(c))

	ins := ir.ChainSlice(c.First)
	require.True(t, ins[0].Meta)
	require.False(t, ins[2].Meta)
	require.Equal(t, uint64(0x401000), ins[2].Addr)
}

func TestBinOpSharedScratch(t *testing.T) {
	c, err := rewriteOne(t, "vpaddd ymm16, ymm16, ymm5", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, 5, c.Case)
	require.Equal(t, "bin5/src1=dst", c.Label())
	require.Equal(t, []string{
		"vmovdqu ymmword ptr tls:[0x280], ymm10",
		"vmovdqu ymm10, ymmword ptr tls:[0x400]",
		"vpaddd ymm10, ymm10, ymm5",
		"vmovdqu ymmword ptr tls:[0x400], ymm10",
		"vmovdqu ymm10, ymmword ptr tls:[0x280]",
	}, chainText(c))

	c, err = rewriteOne(t, "vpsubd ymm17, ymm2, ymm17", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, "bin6/src2=dst", c.Label())
	require.Equal(t, 5, c.Len())
}

func TestBinOpAllExtended(t *testing.T) {
	c, err := rewriteOne(t, "vpxord ymm20, ymm21, ymm22", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, 7, c.Case)
	require.Empty(t, c.Variant)
	require.Equal(t, 8, c.Len())
	require.Contains(t, chainText(c), "vpxor ymm10, ymm10, ymm11")

	c, err = rewriteOne(t, "vpxord xmm20, xmm20, xmm20", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, "bin7/all", c.Label())
	require.Equal(t, 5, c.Len())
	require.Contains(t, chainText(c), "vpxor xmm10, xmm10, xmm10")

	for text, label := range map[string]string{
		"vpsubd xmm16, xmm16, xmm20": "bin7/src1=dst",
		"vpsubd ymm20, ymm16, ymm20": "bin7/src2=dst",
	} {
		c, err = rewriteOne(t, text, StrategyAuto)
		require.NoError(t, err)
		require.Equal(t, label, c.Label())
		require.Equal(t, 8, c.Len(), text)
	}
}

func TestBinOpMemoryOperand(t *testing.T) {
	c, err := rewriteOne(t, "vpaddd ymm20, ymm3, ymmword ptr [rax+0x40]", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, 4, c.Case)
	require.Equal(t, []string{
		"vmovdqu ymmword ptr tls:[0x280], ymm10",
		"vpaddd ymm10, ymm3, ymmword ptr [rax+0x40]",
		"vmovdqu ymmword ptr tls:[0x500], ymm10",
		"vmovdqu ymm10, ymmword ptr tls:[0x280]",
	}, chainText(c))
}

func TestStrategyDowngrade(t *testing.T) {
	for _, st := range []Strategy{StrategyAuto, StrategyFixed} {
		c, err := rewriteOne(t, "vpaddd ymm10, ymm16, ymm17", st)
		require.NoError(t, err)
		require.Equal(t, StrategyDynamic, c.Strategy)
		require.Contains(t, chainText(c), "vpaddd ymm10, ymm11, ymm12")
	}

	c, err := rewriteOne(t, "vpaddd ymm3, ymm16, ymm17", StrategyDynamic)
	require.NoError(t, err)
	require.Equal(t, StrategyDynamic, c.Strategy)

	c, err = rewriteOne(t, "vpaddd ymm3, ymm16, ymm17", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, StrategyFixed, c.Strategy)
	require.Contains(t, chainText(c), "vpaddd ymm3, ymm10, ymm11")
}

func TestStrategyRemap(t *testing.T) {
	c, err := rewriteOne(t, "vpaddd ymm3, ymm20, ymm3", StrategyRemap)
	require.NoError(t, err)
	require.Contains(t, chainText(c), "vpaddd ymm3, ymm11, ymm3")

	// ymm31 prefers ymm0, which is an operand; nothing is free below it
	c, err = rewriteOne(t, "vpaddd ymm0, ymm16, ymm31", StrategyRemap)
	require.NoError(t, err)
	require.Contains(t, chainText(c), "vpaddd ymm0, ymm15, ymm10")
}

func TestRemapSessionRestored(t *testing.T) {
	list, err := ir.ParseList("vpaddd ymm3, ymm20, ymm21", 0)
	require.NoError(t, err)
	s := remap.NewSession()
	require.NoError(t, s.MarkUsed(7))
	c := &Context{Engine: NewEngine(s), List: list, Strategy: StrategyRemap}
	_, err = NewTable().Dispatch(ir.OpVpaddd).Rewrite(c, list.First())
	require.NoError(t, err)
	require.Equal(t, uint16(1<<7), s.UsedBitmap())
	_, ok := s.LookupExtended(21)
	require.False(t, ok)
}

func TestUnary(t *testing.T) {
	c, err := rewriteOne(t, "vpabsd ymm3, ymm19", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, "un1", c.Label())
	require.Equal(t, 4, c.Len())

	c, err = rewriteOne(t, "vpshufd ymm19, ymm20, 0x1b", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, "un3", c.Label())
	require.Contains(t, chainText(c), "vpshufd ymm10, ymm10, 0x1b")
	require.Equal(t, 5, c.Len())

	c, err = rewriteOne(t, "vmovdqu32 ymm18, ymmword ptr [rsi]", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, "un2", c.Label())
	require.Contains(t, chainText(c), "vmovdqu ymm10, ymmword ptr [rsi]")
}

func TestNotSupported(t *testing.T) {
	for _, text := range []string{
		"vpaddd ymm1{k1}, ymm2, ymm3",
		"vpaddd ymm1, ymm2, dword ptr [rax] {1toN}",
		"vpermd zmm1, zmm2, zmm3",
		"vpaddd zmm1, zmm2, ymm17",
		"vpternlogd ymm1, ymm2, ymm3, 0xff",
		"kmovw k1, k2",
	} {
		list, err := ir.ParseList(text, 0)
		require.NoError(t, err, text)
		in := list.First()
		before := in.String()
		_, err = NewTable().Dispatch(in.Op).Rewrite(&Context{Engine: NewEngine(remap.NewSession()), List: list}, in)
		require.ErrorIs(t, err, rwerrors.ErrNotSupported, text)
		require.Equal(t, before, list.First().String(), "instruction left intact")
	}
}

func expectedLen(c Chain) int {
	switch c.Kind {
	case KindUnary:
		return []int{1, 4, 4, 5}[c.Case]
	case KindBinary:
		// aliased 5, 6 and 7 share one scratch, except 7 with only src1 or src2 equal to dst
		if c.Variant == "all" || (c.Variant != "" && c.Case != 7) {
			return 5
		}
		return []int{1, 4, 4, 7, 4, 7, 7, 8}[c.Case]
	}
	return -1
}

var narrowIndices = []int{0, 3, 10, 11, 16, 20, 31}

var strategies = []Strategy{StrategyAuto, StrategyFixed, StrategyDynamic, StrategyRemap}

func TestBinOpRoundTrip(t *testing.T) {
	for _, st := range strategies {
		for _, class := range []string{"xmm", "ymm"} {
			seen := map[int]bool{}
			for _, d := range narrowIndices {
				for _, a := range narrowIndices {
					for _, b := range narrowIndices {
						text := fmt.Sprintf("vpsubd %s%d, %s%d, %s%d", class, d, class, a, class, b)
						c := roundTrip(t, text, st)
						require.Equal(t, expectedLen(c), c.Len(), text)
						seen[c.Case] = true
					}
				}
			}
			require.Len(t, seen, 8, "every case is reached")
		}
	}
}

func TestUnaryRoundTrip(t *testing.T) {
	for _, st := range strategies {
		for _, d := range narrowIndices {
			for _, s := range narrowIndices {
				for _, text := range []string{
					fmt.Sprintf("vpabsd ymm%d, ymm%d", d, s),
					fmt.Sprintf("vpshufd xmm%d, xmm%d, 0x4e", d, s),
					fmt.Sprintf("vmovdqa64 ymm%d, ymm%d", d, s),
				} {
					c := roundTrip(t, text, st)
					require.Equal(t, expectedLen(c), c.Len(), text)
				}
			}
		}
	}
}

func TestWideRoundTrip(t *testing.T) {
	idx := []int{0, 3, 10, 16, 31}
	for _, d := range idx {
		for _, a := range idx {
			for _, b := range idx {
				c := roundTrip(t, fmt.Sprintf("vpaddd zmm%d, zmm%d, zmm%d", d, a, b), StrategyAuto)
				require.Equal(t, KindWide, c.Kind)
			}
			roundTrip(t, fmt.Sprintf("vpsllq zmm%d, zmm%d, xmm3", d, a), StrategyAuto)
			roundTrip(t, fmt.Sprintf("vpshufd zmm%d, zmm%d, 0x1b", d, a), StrategyAuto)
			roundTrip(t, fmt.Sprintf("vpandq zmm%d, zmm%d, zmm%d", d, a, a), StrategyAuto)
		}
	}
}

func TestWideChainShape(t *testing.T) {
	c, err := rewriteOne(t, "vpaddd zmm0, zmm16, zmm3", StrategyAuto)
	require.NoError(t, err)
	require.Equal(t, []string{
		"vmovdqu ymmword ptr tls:[0x40], ymm1",
		"vmovdqu ymmword ptr tls:[0x80], ymm2",
		"vmovdqu ymm1, ymmword ptr tls:[0x400]",
		"vmovdqu ymm2, ymmword ptr tls:[0xc20]",
		"vmovdqu ymmword ptr tls:[0x100], ymm4",
		"vmovdqu ymmword ptr tls:[0x140], ymm5",
		"vmovdqa ymm4, ymm3",
		"vmovdqu ymm5, ymmword ptr tls:[0x8e0]",
		"vmovdqu ymmword ptr tls:[0x180], ymm6",
		"vmovdqu ymmword ptr tls:[0x1c0], ymm7",
		"vpaddd ymm6, ymm1, ymm4",
		"vpaddd ymm7, ymm2, ymm5",
		"vmovdqa ymm0, ymm6",
		"vmovdqu ymmword ptr tls:[0x820], ymm7",
		"vmovdqu ymm6, ymmword ptr tls:[0x180]",
		"vmovdqu ymm7, ymmword ptr tls:[0x1c0]",
		"vmovdqu ymm4, ymmword ptr tls:[0x100]",
		"vmovdqu ymm5, ymmword ptr tls:[0x140]",
		"vmovdqu ymm1, ymmword ptr tls:[0x40]",
		"vmovdqu ymm2, ymmword ptr tls:[0x80]",
	}, chainText(c))
}

func TestWideMemoryHalves(t *testing.T) {
	c, err := rewriteOne(t, "vpaddd zmm1, zmm2, zmmword ptr [rax+0x40]", StrategyAuto)
	require.NoError(t, err)
	text := chainText(c)
	require.Contains(t, text, "vpaddd ymm4, ymm0, ymmword ptr [rax+0x40]")
	require.Contains(t, text, "vpaddd ymm5, ymm3, ymmword ptr [rax+0x60]")

	c, err = rewriteOne(t, "vmovdqu64 zmmword ptr [rdi], zmm17", StrategyAuto)
	require.NoError(t, err)
	text = chainText(c)
	require.Contains(t, text, "vmovdqu ymmword ptr [rdi], ymm0")
	require.Contains(t, text, "vmovdqu ymmword ptr [rdi+0x20], ymm1")
}

func TestWideShiftCountNotSplit(t *testing.T) {
	for _, text := range []string{
		"vpsllq zmm1, zmm2, [rax]",
		"vpsrad zmm1, zmm2, xmmword ptr [rax]",
	} {
		c, err := rewriteOne(t, text, StrategyAuto)
		require.NoError(t, err, text)
		shifts := 0
		for _, line := range chainText(c) {
			if strings.Contains(line, "[rax") {
				require.True(t, strings.HasSuffix(line, ", xmmword ptr [rax]"), line)
				shifts++
			}
		}
		require.Equal(t, 2, shifts, text)
	}

	for _, text := range []string{
		"vpaddd zmm1, zmm2, [rax]",
		"vpaddd zmm1, zmm2, ymmword ptr [rax]",
		"vpsllq zmm1, zmm2, zmmword ptr [rax]",
		"vpsllq zmm1, zmm2, zmm3",
	} {
		_, err := rewriteOne(t, text, StrategyAuto)
		require.ErrorIs(t, err, rwerrors.ErrNotSupported, text)
	}
}

func TestWidePairExhaustion(t *testing.T) {
	list, err := ir.ParseList("vpaddd zmm1, zmm2, zmm3", 0)
	require.NoError(t, err)
	s := remap.NewSession()
	s.SetUsedBitmap(0xfff0)
	c := &Context{Engine: NewEngine(s), List: list}
	_, err = NewTable().Dispatch(ir.OpVpaddd).Rewrite(c, list.First())
	require.ErrorIs(t, err, rwerrors.ErrNoFreePair)
	require.Equal(t, uint16(0xfff0), s.UsedBitmap())
	require.Equal(t, 1, list.Len())
}

func TestChainLabel(t *testing.T) {
	require.Equal(t, "none", Chain{}.Label())
	require.Equal(t, "bin7/src2=dst", Chain{Kind: KindBinary, Case: 7, Variant: "src2=dst"}.Label())
	require.Equal(t, "un2", Chain{Kind: KindUnary, Case: 2}.Label())
	require.Equal(t, "wide", Chain{Kind: KindWide}.Label())
}

func TestParseStrategy(t *testing.T) {
	for _, st := range strategies {
		got, err := ParseStrategy(st.String())
		require.NoError(t, err)
		require.Equal(t, st, got)
	}
	got, err := ParseStrategy(" Dynamic ")
	require.NoError(t, err)
	require.Equal(t, StrategyDynamic, got)
	_, err = ParseStrategy("greedy")
	require.Error(t, err)
}
