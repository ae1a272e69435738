package rewrite

import (
	"testing"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	tb := NewTable()
	require.Equal(t, "vecop", tb.Dispatch(ir.OpVpaddd).Name())
	require.Equal(t, "vecop->vpand", tb.Dispatch(ir.OpVpandd).Name())
	require.Equal(t, "vecop->vmovdqu", tb.Dispatch(ir.OpVmovdqu64).Name())
	require.Equal(t, "unsupported: lane insert/extract", tb.Dispatch(ir.OpVextracti32x4).Name())
	require.Equal(t, "unsupported: gather/scatter", tb.Dispatch(ir.OpVpgatherdd).Name())

	// outside the wide set
	require.Equal(t, "none", tb.Dispatch(ir.OpLegacy).Name())
	require.Equal(t, "none", tb.Dispatch(ir.OpVpand).Name())
	require.Equal(t, "none", tb.Dispatch(ir.Opcode(0xffff)).Name())
}

func TestDispatchTotal(t *testing.T) {
	tb := NewTable()
	for _, op := range ir.WideOpcodes() {
		require.NotNil(t, tb.Dispatch(op), op.String())
	}
}

func TestRegister(t *testing.T) {
	tb := NewTable()
	require.NoError(t, tb.Register(ir.OpVextracti32x4, noop{}))
	require.Equal(t, "none", tb.Dispatch(ir.OpVextracti32x4).Name())

	require.Error(t, tb.Register(ir.OpLegacy, noop{}))
	require.Error(t, tb.Register(ir.OpVpxor, noop{}))
}

func TestCoverage(t *testing.T) {
	cov := NewTable().Coverage()
	require.Len(t, cov, ir.NumWideOps)

	byOp := map[ir.Opcode]CoverageEntry{}
	supported := 0
	for _, e := range cov {
		require.True(t, e.Op.IsWide())
		byOp[e.Op] = e
		if e.Supported {
			supported++
		}
	}
	require.True(t, byOp[ir.OpVpaddd].Supported)
	require.False(t, byOp[ir.OpVpternlogd].Supported)
	require.False(t, byOp[ir.OpVinserti64x4].Supported)
	require.True(t, byOp[ir.OpVpermd].Supported)
	require.True(t, byOp[ir.OpVpermd].Partial)
	require.Equal(t, "vecop (xmm/ymm only)", byOp[ir.OpVpermd].Handler)
	require.False(t, byOp[ir.OpVpaddd].Partial)
	require.Greater(t, supported, ir.NumWideOps/2)
}
