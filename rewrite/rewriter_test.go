package rewrite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/rwerrors"
	"github.com/colorfulnotion/avx2rw/sim"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const block = `
vpaddd ymm3, ymm20, ymm3
vpand ymm1, ymm2, ymm3
vpxord zmm1, zmm2, zmm17
vpaddd ymm16, ymm16, ymm5
vpsubq zmm20, zmm20, zmm1
vpshufd xmm18, xmm3, 0x1b
vmovdqa64 ymm30, ymm19
`

func TestRewriteBlockPreservesState(t *testing.T) {
	for _, st := range strategies {
		list, err := ir.ParseList(block, 0x1000)
		require.NoError(t, err)
		orig, err := ir.ParseList(block, 0x1000)
		require.NoError(t, err)

		var want sim.Logical
		want.Seed(42)
		m := sim.Lower(&want, 0x77)
		require.NoError(t, want.ExecList(orig))

		rw := New(Options{Strategy: st}, nil, nil)
		rep, err := rw.RewriteBlock(context.Background(), list)
		require.NoError(t, err)
		require.Equal(t, 7, rep.Instructions)
		require.Equal(t, 6, rep.Rewritten)
		require.Zero(t, rep.Unsupported)

		for in := list.First(); in != nil; in = in.Next() {
			for _, r := range in.Regs() {
				require.False(t, r.IsExtended(), "%s", in)
				require.NotEqual(t, regs.ClassZMM, r.Class(), "%s", in)
			}
		}
		require.NoError(t, m.Run(list.First()))
		require.Empty(t, sim.Diff(&want, m.Lift()), "%s\n%s", st, list.Disassemble())
	}
}

func TestRewriteBlockReport(t *testing.T) {
	list, err := ir.ParseList(`
vpaddd ymm3, ymm20, ymm3
vpermd zmm4, zmm5, zmm6
vextracti32x4 xmm1, zmm2, 1
vpaddd ymm16, ymm16, ymm5
vpxor ymm1, ymm1, ymm1
`, 0x2000)
	require.NoError(t, err)

	rw := New(Options{}, nil, nil)
	rep, err := rw.RewriteBlock(context.Background(), list)
	require.NoError(t, err)

	want := Report{
		Instructions: 5,
		Rewritten:    2,
		Unsupported:  2,
		Footprint:    0x7e,
		Cases:        map[string]int{"bin1": 1, "bin5/src1=dst": 1},
		Skipped:      []string{"0x2004 vpermd zmm4, zmm5, zmm6", "0x2008 vextracti32x4 xmm1, zmm2, 0x1"},
	}
	require.Empty(t, cmp.Diff(want, rep))

	// unsupported instructions stay where they were
	require.Equal(t, 1+4+1+5+1, list.Len())
	text := list.Disassemble()
	require.Contains(t, text, "vpermd zmm4, zmm5, zmm6")
	require.Contains(t, text, "vextracti32x4 xmm1, zmm2, 0x1")

	tree := rep.Tree().String()
	require.Contains(t, tree, "2 rewritten")
	require.Contains(t, tree, "bin5/src1=dst: 1")
	require.Contains(t, tree, "vpermd")
	require.Contains(t, tree, "footprint: ymm1 ymm2 ymm3 ymm4 ymm5 ymm6")
}

func TestRewriteBlockStrict(t *testing.T) {
	list, err := ir.ParseList("vpaddd ymm3, ymm20, ymm3\nvpermd zmm4, zmm5, zmm6", 0)
	require.NoError(t, err)
	rw := New(Options{Strict: true}, nil, nil)
	rep, err := rw.RewriteBlock(context.Background(), list)
	require.ErrorIs(t, err, rwerrors.ErrNotSupported)
	require.Equal(t, 1, rep.Rewritten)
	require.Contains(t, err.Error(), "vpermd")
}

func TestRewriteBlockAllocationFailure(t *testing.T) {
	list, err := ir.ParseList("vpaddd zmm1, zmm2, zmm3", 0)
	require.NoError(t, err)
	reserved := []regs.Reg{}
	for i := 4; i < regs.NumPhysical; i++ {
		reserved = append(reserved, regs.YMM(i))
	}
	rw := New(Options{Reserved: reserved}, nil, nil)
	_, err = rw.RewriteBlock(context.Background(), list)
	require.ErrorIs(t, err, rwerrors.ErrNoFreePair)
	require.True(t, rwerrors.IsAllocation(err))
}

func TestReserved(t *testing.T) {
	list, err := ir.ParseList("vpaddd ymm3, ymm20, ymm3", 0)
	require.NoError(t, err)
	rw := New(Options{Strategy: StrategyRemap, Reserved: []regs.Reg{regs.YMM(11)}}, nil, nil)
	_, err = rw.RewriteBlock(context.Background(), list)
	require.NoError(t, err)
	require.Contains(t, list.Disassemble(), "vpaddd ymm3, ymm10, ymm3")
	require.True(t, rw.Session().IsUsed(11))

	rw = New(Options{Reserved: []regs.Reg{regs.MustFromIndex(regs.ClassGPR64, 0)}}, nil, nil)
	require.ErrorIs(t, rw.Reset(), rwerrors.ErrInvalidOperand)
}

func TestRewriteBlockStrictLaneOps(t *testing.T) {
	for _, text := range []string{
		"vshufi32x4 ymm20, ymm21, ymm22, 0x1",
		"vextracti32x4 xmm1, zmm20, 0x1",
		"vinserti32x4 ymm17, ymm18, xmm3, 0x1",
		"vinserti64x4 zmm1, zmm2, ymm3, 0x1",
	} {
		list, err := ir.ParseList(text, 0)
		require.NoError(t, err)
		rw := New(Options{Strict: true}, nil, nil)
		rep, err := rw.RewriteBlock(context.Background(), list)
		require.ErrorIs(t, err, rwerrors.ErrNotSupported, text)
		require.Zero(t, rep.Unchanged, text)

		rw.SetStrict(false)
		rep, err = rw.RewriteBlock(context.Background(), list)
		require.NoError(t, err, text)
		require.Equal(t, 1, rep.Unsupported, text)
		require.Equal(t, 1, list.Len(), text)
	}
}

// silent leaves every instruction in place without an error.
type silent struct{}

func (silent) Name() string { return "silent" }

func (silent) Rewrite(*Context, *ir.Instr) (Chain, error) { return Chain{}, nil }

func TestRewriteLeftInPlace(t *testing.T) {
	rw := New(Options{Strict: true}, nil, nil)
	require.NoError(t, rw.Table().Register(ir.OpVpaddd, silent{}))

	list, err := ir.ParseList("vpaddd ymm1, ymm2, ymm3", 0)
	require.NoError(t, err)
	rep, err := rw.RewriteBlock(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Unchanged)

	for _, text := range []string{
		"vpaddd ymm1, ymm2, ymm19",
		"vpaddd zmm1, zmm2, zmm3",
		"vpaddd ymm1{k1}, ymm2, ymm3",
	} {
		list, err := ir.ParseList(text, 0)
		require.NoError(t, err)
		_, err = rw.RewriteBlock(context.Background(), list)
		require.ErrorIs(t, err, rwerrors.ErrNotSupported, text)
		require.Contains(t, err.Error(), "silent", text)
	}
}

func TestEventsAndStats(t *testing.T) {
	list, err := ir.ParseList(`
vpaddd ymm3, ymm20, ymm3
vpermd zmm4, zmm5, zmm6
vextracti32x4 xmm1, zmm2, 1
`, 0x3000)
	require.NoError(t, err)

	var events bytes.Buffer
	stats := NewStats()
	rw := New(Options{}, stats, log.NewRecordWriter(&events))
	_, err = rw.RewriteBlock(context.Background(), list)
	require.NoError(t, err)

	var recs []map[string]interface{}
	sc := bufio.NewScanner(&events)
	for sc.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.Len(t, recs, 3)
	require.Equal(t, "0x3000", recs[0]["addr"])
	require.Equal(t, "bin1", recs[0]["case"])
	require.Equal(t, "fixed", recs[0]["strategy"])
	require.EqualValues(t, 4, recs[0]["chain_len"])
	require.Equal(t, "NotSupported", recs[1]["error"])
	require.Equal(t, "0x3008", recs[2]["addr"])
	require.Equal(t, "NotSupported", recs[2]["error"])

	var out strings.Builder
	require.NoError(t, stats.WriteText(&out))
	metrics := out.String()
	require.Contains(t, metrics, `avx2rw_instructions_total{opcode="vpaddd",outcome="rewritten"} 1`)
	require.Contains(t, metrics, `avx2rw_instructions_total{opcode="vpermd",outcome="unsupported"} 1`)
	require.Contains(t, metrics, `avx2rw_instructions_total{opcode="vextracti32x4",outcome="unsupported"} 1`)
	require.Contains(t, metrics, `avx2rw_cases_total{case="bin1",strategy="fixed"} 1`)
	require.Contains(t, metrics, "avx2rw_blocks_total 1")
	require.Contains(t, metrics, "avx2rw_chain_length_count 1")
}

func TestNilStats(t *testing.T) {
	var s *Stats
	s.observe("vpaddd", "rewritten", Chain{})
	s.block()
}
