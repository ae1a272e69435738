package regs

import (
	"errors"
	"testing"

	"github.com/colorfulnotion/avx2rw/rwerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpillPoolLayout(t *testing.T) {
	for _, p := range []*SpillPool{XMMSpill, YMMSpill, ZMMSpill} {
		require.Equal(t, 6, p.Len())
		for i := 0; i < p.Len(); i++ {
			assert.Equal(t, SpillSlotBase+i, p.Slot(i).Index())
			assert.Equal(t, p.Class(), p.Slot(i).Class())
		}
	}
	assert.True(t, YMMSpill.Contains(XMM(12)))
	assert.False(t, YMMSpill.Contains(YMM(9)))
	assert.False(t, YMMSpill.Contains(YMM(20)))
	assert.Nil(t, SpillFor(ClassMask))
}

func TestPickOneAndPickAvoiding(t *testing.T) {
	r, err := YMMSpill.PickOne(YMM(10))
	require.NoError(t, err)
	assert.Equal(t, YMM(11), r)

	r, err = YMMSpill.PickOne(YMM(20))
	require.NoError(t, err)
	assert.Equal(t, YMM(10), r)

	// avoids are compared by physical number across widths
	r, err = YMMSpill.PickAvoiding(XMM(10), ZMM(11), RegNull)
	require.NoError(t, err)
	assert.Equal(t, YMM(12), r)

	// for every avoid set of size 0..5 the result is never avoided
	for n := 0; n < YMMSpill.Len(); n++ {
		var avoids []Reg
		for i := 0; i < n; i++ {
			avoids = append(avoids, YMMSpill.Slot(i))
		}
		r, err := YMMSpill.PickAvoiding(avoids...)
		require.NoError(t, err)
		assert.NotContains(t, avoids, r)
		assert.Equal(t, YMMSpill.Slot(n), r)
	}

	all := []Reg{YMM(10), YMM(11), YMM(12), YMM(13), YMM(14), YMM(15)}
	_, err = YMMSpill.PickAvoiding(all...)
	assert.True(t, errors.Is(err, rwerrors.ErrExhaustedSlots))
}

func TestPickPair(t *testing.T) {
	a, b, err := XMMSpill.PickPair(XMM(11))
	require.NoError(t, err)
	assert.Equal(t, XMM(10), a)
	assert.Equal(t, XMM(12), b)

	_, _, err = XMMSpill.PickPair(XMM(10), XMM(11), XMM(12), XMM(13), XMM(14))
	assert.True(t, errors.Is(err, rwerrors.ErrExhaustedSlots))
}

func TestPickN(t *testing.T) {
	got, err := PickN(0)
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = PickN(3)
	require.NoError(t, err)
	assert.Equal(t, "rax rcx rdx", names(got))

	eax, _ := Parse("eax")
	dl, _ := Parse("dl")
	got, err = PickN(3, eax, dl)
	require.NoError(t, err)
	assert.Equal(t, "rcx rbx rsi", names(got))

	got, err = PickN(NumGPRSpillSlots)
	require.NoError(t, err)
	assert.Len(t, got, 14)
	for _, r := range got {
		assert.NotEqual(t, "rsp", r.String())
		assert.NotEqual(t, "rbp", r.String())
	}

	_, err = PickN(15)
	assert.True(t, errors.Is(err, rwerrors.ErrExhaustedSlots))

	// short count returns what was found together with the error
	var avoids []Reg
	for i := 0; i < 12; i++ {
		avoids = append(avoids, GPRSlot(i))
	}
	got, err = PickN(3, avoids...)
	assert.True(t, errors.Is(err, rwerrors.ErrExhaustedSlots))
	assert.Equal(t, "r14 r15", names(got))

	// every avoid is honoured, however large the set
	for k := 0; k < NumGPRSpillSlots; k++ {
		var set []Reg
		for i := 0; i < k; i++ {
			dword, err := GPRSlot(i).ToDword()
			require.NoError(t, err)
			set = append(set, dword)
		}
		got, err := PickN(1, set...)
		require.NoError(t, err, k)
		assert.Equal(t, GPRSlot(k), got[0], "%d avoids", k)
	}

	one, err := PickOneGPR(GPRSlot(0))
	require.NoError(t, err)
	assert.Equal(t, "rcx", one.String())
}

func names(rs []Reg) string {
	s := ""
	for i, r := range rs {
		if i > 0 {
			s += " "
		}
		s += r.String()
	}
	return s
}
