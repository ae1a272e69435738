package liveness

import (
	"testing"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/stretchr/testify/require"
)

func TestExamine(t *testing.T) {
	list, err := ir.ParseList(`
vpaddd zmm1{k2}, zmm17, zmm3
vpxor xmm31, xmm31, xmm31
vmovdqu32 ymm5, ymmword ptr [rax]
`, 0)
	require.NoError(t, err)

	a := NewAnalyzer()
	b := a.ExamineList(list)
	require.True(t, b.MaskLive(2))
	require.False(t, b.MaskLive(1))
	for _, i := range []int{1, 3, 5, 17, 31} {
		require.True(t, b.VectorLive(i), "vector %d", i)
	}
	require.False(t, b.VectorLive(0))
	require.False(t, b.VectorLive(32))
	require.Contains(t, b.String(), "(1 mask, 5 vector)")

	a.Reset()
	require.Equal(t, Bitmaps{}, a.Bitmaps())
}

func TestFootprint(t *testing.T) {
	list, err := ir.ParseList(`
vpaddd ymm3, ymm20, ymm3
vpsllq zmm0, zmm16, xmm15
vmovdqu ymmword ptr [rcx], ymm30
`, 0)
	require.NoError(t, err)
	fp := Footprint(list)
	require.Equal(t, uint16(1<<0|1<<3|1<<15), fp)
	require.Equal(t, "ymm0 ymm3 ymm15", FootprintString(fp))
	require.Equal(t, "none", FootprintString(0))
}
