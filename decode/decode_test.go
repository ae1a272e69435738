package decode

import (
	"context"
	"io"
	"testing"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/rewrite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEVEX(t *testing.T) {
	cases := []struct {
		name string
		code []byte
		text string
	}{
		{"rvm", []byte{0x62, 0xf1, 0x6d, 0x48, 0xfe, 0xcb}, "vpaddd zmm1, zmm2, zmm3"},
		{"extended", []byte{0x62, 0xa1, 0x6d, 0x40, 0xfe, 0xcb}, "vpaddd zmm17, zmm18, zmm19"},
		{"masked", []byte{0x62, 0xf1, 0x6d, 0x49, 0xfe, 0xcb}, "vpaddd zmm1{k1}, zmm2, zmm3"},
		{"ymm", []byte{0x62, 0xa1, 0x55, 0x20, 0xef, 0xe6}, "vpxord ymm20, ymm21, ymm22"},
		{"disp8*N", []byte{0x62, 0xf1, 0x7e, 0x48, 0x6f, 0x48, 0x01}, "vmovdqu32 zmm1, zmmword ptr [rax+0x40]"},
		{"imm8", []byte{0x62, 0xf1, 0x7d, 0x48, 0x70, 0xca, 0x1b}, "vpshufd zmm1, zmm2, 0x1b"},
		{"opcode extension", []byte{0x62, 0xf1, 0x6d, 0x48, 0x72, 0xf3, 0x04}, "vpslld zmm2, zmm3, 0x4"},
		{"broadcast", []byte{0x62, 0xf1, 0x6d, 0x58, 0xfe, 0x08}, "vpaddd zmm1, zmm2, dword ptr [rax] {1toN}"},
		{"store", []byte{0x62, 0xe1, 0xfe, 0x48, 0x7f, 0x0f}, "vmovdqu64 zmmword ptr [rdi], zmm17"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, enc, err := Decode(tc.code, 0x1000)
			require.NoError(t, err)
			assert.Equal(t, EncEVEX, enc)
			assert.Equal(t, tc.text, in.String())
			assert.Equal(t, len(tc.code), in.Len)
			assert.True(t, in.Op.IsWide())
		})
	}
}

func TestDecodeUnknownEVEX(t *testing.T) {
	in, enc, err := Decode([]byte{0x62, 0xf2, 0x6d, 0x48, 0xcf, 0xcb}, 0)
	require.NoError(t, err)
	require.Equal(t, EncEVEX, enc)
	require.Equal(t, ir.OpWideUnknown, in.Op)
	require.Equal(t, "evex.0f38.66.w0 0xcf", in.Text)
	require.Equal(t, 6, in.Len)
}

func TestDecodeVEX(t *testing.T) {
	in, enc, err := Decode([]byte{0xc5, 0xed, 0xfe, 0xcb}, 0)
	require.NoError(t, err)
	require.Equal(t, EncVEX, enc)
	require.Equal(t, ir.OpLegacy, in.Op)
	require.Equal(t, "vpaddd ymm1, ymm2, ymm3", in.String())
	require.Equal(t, []regs.Reg{regs.YMM(1), regs.YMM(2), regs.YMM(3)}, in.Regs())

	// the VEX form of the logic ops has no element size
	in, _, err = Decode([]byte{0xc5, 0xed, 0xef, 0xcb}, 0)
	require.NoError(t, err)
	require.Equal(t, "vpxor ymm1, ymm2, ymm3", in.String())

	in, _, err = Decode([]byte{0xc5, 0xf8, 0x77}, 0)
	require.NoError(t, err)
	require.Equal(t, "vzeroupper", in.String())
	require.Equal(t, 3, in.Len)
}

func TestDecodeLegacy(t *testing.T) {
	in, enc, err := Decode([]byte{0x48, 0x89, 0xd8}, 0)
	require.NoError(t, err)
	require.Equal(t, EncLegacy, enc)
	require.Equal(t, "mov rax, rbx", in.String())
	require.Equal(t, 3, in.Len)
	require.Equal(t, []regs.Reg{regs.MustFromIndex(regs.ClassGPR64, 0), regs.MustFromIndex(regs.ClassGPR64, 3)}, in.Regs())

	in, enc, err = Decode([]byte{0x06}, 0)
	require.NoError(t, err)
	require.Equal(t, EncInvalid, enc)
	require.Equal(t, "db 0x06", in.String())
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := Decode([]byte{0x62, 0xf1}, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, _, err = Decode([]byte{0x62, 0xf1, 0x6d, 0x48, 0xfe}, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, _, err = Decode([]byte{0x62, 0xf1, 0x7d, 0x48, 0x70, 0xca}, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

var sample = []byte{
	0x62, 0xf1, 0x6d, 0x48, 0xfe, 0xcb, // vpaddd zmm1, zmm2, zmm3
	0xc5, 0xed, 0xfe, 0xcb, // vpaddd ymm1, ymm2, ymm3
	0x48, 0x89, 0xd8, // mov rax, rbx
	0x62, 0xf2, 0x6d, 0x48, 0xcf, 0xcb, // unknown
	0x06, // invalid in 64-bit mode
	0xc3, // ret
}

func TestBlockCensus(t *testing.T) {
	list, c, err := Block(sample, 0x1000)
	require.NoError(t, err)
	require.Equal(t, 6, list.Len())
	require.Equal(t, Census{
		Total: 6, Legacy: 2, VEX: 1, EVEX: 2, Unknown: 1, Invalid: 1,
		Bytes: len(sample), ByOp: map[string]int{"vpaddd": 1},
	}, c)

	addrs := []uint64{}
	for in := list.First(); in != nil; in = in.Next() {
		addrs = append(addrs, in.Addr)
	}
	require.Equal(t, []uint64{0x1000, 0x1006, 0x100a, 0x100d, 0x1013, 0x1014}, addrs)

	var total Census
	total.Merge(c)
	total.Merge(c)
	require.Equal(t, 12, total.Total)
	require.Equal(t, 2, total.ByOp["vpaddd"])
	require.Contains(t, total.Tree().String(), "vpaddd")

	listing := Listing(list, sample, 0x1000)
	require.Contains(t, listing, "0x1000: 62 f1 6d 48 fe cb")
	require.Contains(t, listing, "mov rax, rbx")
}

func TestBlockTruncated(t *testing.T) {
	code := append([]byte{0xc3}, 0x62, 0xf1)
	list, c, err := Block(code, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, 1, list.Len())
	require.Equal(t, 1, c.Legacy)
}

func TestDecodedBlockRewrites(t *testing.T) {
	code := []byte{
		0x62, 0xa1, 0x6d, 0x40, 0xfe, 0xcb, // vpaddd zmm17, zmm18, zmm19
		0x62, 0xa1, 0x55, 0x20, 0xef, 0xe6, // vpxord ymm20, ymm21, ymm22
		0xc3,
	}
	list, _, err := Block(code, 0x400000)
	require.NoError(t, err)
	rep, err := rewrite.New(rewrite.Options{}, nil, nil).RewriteBlock(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Rewritten)
	for in := list.First(); in != nil; in = in.Next() {
		for _, r := range in.Regs() {
			require.False(t, r.IsExtended(), in.String())
		}
	}
	require.Equal(t, "ret", list.Last().String())
}

func TestKnownOpcodesAreWide(t *testing.T) {
	for _, op := range Known() {
		require.True(t, op.IsWide(), op.String())
	}
}
