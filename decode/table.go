package decode

import "github.com/colorfulnotion/avx2rw/ir"

// form is the operand layout of an encoding.
type form uint8

const (
	formRVM  form = iota // reg = op(vvvv, rm)
	formRM               // reg = op(rm)
	formMR               // rm = op(reg)
	formVMI              // vvvv = op(rm, imm); modrm.reg extends the opcode
	formKRVM             // k(reg) = op(vvvv, rm)
)

// Operand width overrides for the rm operand.
const (
	widthVL   = 0  // the vector length
	widthHalf = -1 // half the vector length
	widthXMM  = 16
	widthYMM  = 32
)

const wig = -1 // W ignored

type key struct {
	mmap, pp, op uint8
	w            int8 // 0, 1 or wig
	ext          int8 // modrm.reg opcode extension, -1 for none
}

type entry struct {
	op      ir.Opcode
	form    form
	rmWidth int
	scalar  bool // every vector operand is 128 bits
}

type row struct {
	mmap, pp, op uint8
	w, ext       int8
	entry
}

func rvm(m, pp, op uint8, w int8, o ir.Opcode) row {
	return row{m, pp, op, w, -1, entry{op: o, form: formRVM}}
}

func rm(m, pp, op uint8, w int8, o ir.Opcode) row {
	return row{m, pp, op, w, -1, entry{op: o, form: formRM}}
}

func mr(m, pp, op uint8, w int8, o ir.Opcode) row {
	return row{m, pp, op, w, -1, entry{op: o, form: formMR}}
}

func vmi(op uint8, ext, w int8, o ir.Opcode) row {
	return row{map0F, pp66, op, w, ext, entry{op: o, form: formVMI}}
}

func scalar(pp, op uint8, w int8, o ir.Opcode) row {
	return row{map0F, pp, op, w, -1, entry{op: o, form: formRVM, rmWidth: widthXMM, scalar: true}}
}

func (r row) rmAs(width int) row {
	r.rmWidth = width
	return r
}

var rows = []row{
	// moves
	rm(map0F, ppNone, 0x10, 0, ir.OpVmovups), mr(map0F, ppNone, 0x11, 0, ir.OpVmovups),
	rm(map0F, pp66, 0x10, 1, ir.OpVmovupd), mr(map0F, pp66, 0x11, 1, ir.OpVmovupd),
	rm(map0F, ppNone, 0x28, 0, ir.OpVmovaps), mr(map0F, ppNone, 0x29, 0, ir.OpVmovaps),
	rm(map0F, pp66, 0x28, 1, ir.OpVmovapd), mr(map0F, pp66, 0x29, 1, ir.OpVmovapd),
	rm(map0F, pp66, 0x6f, 0, ir.OpVmovdqa32), mr(map0F, pp66, 0x7f, 0, ir.OpVmovdqa32),
	rm(map0F, pp66, 0x6f, 1, ir.OpVmovdqa64), mr(map0F, pp66, 0x7f, 1, ir.OpVmovdqa64),
	rm(map0F, ppF3, 0x6f, 0, ir.OpVmovdqu32), mr(map0F, ppF3, 0x7f, 0, ir.OpVmovdqu32),
	rm(map0F, ppF3, 0x6f, 1, ir.OpVmovdqu64), mr(map0F, ppF3, 0x7f, 1, ir.OpVmovdqu64),
	rm(map0F, ppF2, 0x6f, 0, ir.OpVmovdqu8), mr(map0F, ppF2, 0x7f, 0, ir.OpVmovdqu8),
	rm(map0F, ppF2, 0x6f, 1, ir.OpVmovdqu16), mr(map0F, ppF2, 0x7f, 1, ir.OpVmovdqu16),

	// integer arithmetic
	rvm(map0F, pp66, 0xfc, wig, ir.OpVpaddb), rvm(map0F, pp66, 0xfd, wig, ir.OpVpaddw),
	rvm(map0F, pp66, 0xfe, 0, ir.OpVpaddd), rvm(map0F, pp66, 0xd4, 1, ir.OpVpaddq),
	rvm(map0F, pp66, 0xf8, wig, ir.OpVpsubb), rvm(map0F, pp66, 0xf9, wig, ir.OpVpsubw),
	rvm(map0F, pp66, 0xfa, 0, ir.OpVpsubd), rvm(map0F, pp66, 0xfb, 1, ir.OpVpsubq),
	rvm(map0F38, pp66, 0x40, 0, ir.OpVpmulld), rvm(map0F38, pp66, 0x40, 1, ir.OpVpmullq),
	rvm(map0F38, pp66, 0x3d, 0, ir.OpVpmaxsd), rvm(map0F38, pp66, 0x39, 0, ir.OpVpminsd),
	rvm(map0F38, pp66, 0x3f, 0, ir.OpVpmaxud), rvm(map0F38, pp66, 0x3b, 0, ir.OpVpminud),
	rm(map0F38, pp66, 0x1e, 0, ir.OpVpabsd), rm(map0F38, pp66, 0x1f, 1, ir.OpVpabsq),

	// logic
	rvm(map0F, pp66, 0xdb, 0, ir.OpVpandd), rvm(map0F, pp66, 0xdb, 1, ir.OpVpandq),
	rvm(map0F, pp66, 0xdf, 0, ir.OpVpandnd), rvm(map0F, pp66, 0xdf, 1, ir.OpVpandnq),
	rvm(map0F, pp66, 0xeb, 0, ir.OpVpord), rvm(map0F, pp66, 0xeb, 1, ir.OpVporq),
	rvm(map0F, pp66, 0xef, 0, ir.OpVpxord), rvm(map0F, pp66, 0xef, 1, ir.OpVpxorq),
	{map0F3A, pp66, 0x25, 0, -1, entry{op: ir.OpVpternlogd, form: formRVM}},
	{map0F3A, pp66, 0x25, 1, -1, entry{op: ir.OpVpternlogq, form: formRVM}},

	// shifts: count in xmm, immediate, or per element
	rvm(map0F, pp66, 0xf1, wig, ir.OpVpsllw).rmAs(widthXMM), rvm(map0F, pp66, 0xf2, 0, ir.OpVpslld).rmAs(widthXMM),
	rvm(map0F, pp66, 0xf3, 1, ir.OpVpsllq).rmAs(widthXMM), rvm(map0F, pp66, 0xd1, wig, ir.OpVpsrlw).rmAs(widthXMM),
	rvm(map0F, pp66, 0xd2, 0, ir.OpVpsrld).rmAs(widthXMM), rvm(map0F, pp66, 0xd3, 1, ir.OpVpsrlq).rmAs(widthXMM),
	rvm(map0F, pp66, 0xe1, wig, ir.OpVpsraw).rmAs(widthXMM), rvm(map0F, pp66, 0xe2, 0, ir.OpVpsrad).rmAs(widthXMM),
	rvm(map0F, pp66, 0xe2, 1, ir.OpVpsraq).rmAs(widthXMM),
	vmi(0x71, 6, wig, ir.OpVpsllw), vmi(0x71, 2, wig, ir.OpVpsrlw), vmi(0x71, 4, wig, ir.OpVpsraw),
	vmi(0x72, 6, 0, ir.OpVpslld), vmi(0x72, 2, 0, ir.OpVpsrld), vmi(0x72, 4, 0, ir.OpVpsrad),
	vmi(0x72, 4, 1, ir.OpVpsraq), vmi(0x73, 6, 1, ir.OpVpsllq), vmi(0x73, 2, 1, ir.OpVpsrlq),
	rvm(map0F38, pp66, 0x47, 0, ir.OpVpsllvd), rvm(map0F38, pp66, 0x47, 1, ir.OpVpsllvq),
	rvm(map0F38, pp66, 0x45, 0, ir.OpVpsrlvd), rvm(map0F38, pp66, 0x45, 1, ir.OpVpsrlvq),
	rvm(map0F38, pp66, 0x46, 0, ir.OpVpsravd),

	// floating point
	rvm(map0F, ppNone, 0x58, 0, ir.OpVaddps), rvm(map0F, pp66, 0x58, 1, ir.OpVaddpd),
	rvm(map0F, ppNone, 0x5c, 0, ir.OpVsubps), rvm(map0F, pp66, 0x5c, 1, ir.OpVsubpd),
	rvm(map0F, ppNone, 0x59, 0, ir.OpVmulps), rvm(map0F, pp66, 0x59, 1, ir.OpVmulpd),
	rvm(map0F, ppNone, 0x5e, 0, ir.OpVdivps), rvm(map0F, pp66, 0x5e, 1, ir.OpVdivpd),
	rvm(map0F, ppNone, 0x5d, 0, ir.OpVminps), rvm(map0F, pp66, 0x5d, 1, ir.OpVminpd),
	rvm(map0F, ppNone, 0x5f, 0, ir.OpVmaxps), rvm(map0F, pp66, 0x5f, 1, ir.OpVmaxpd),
	rm(map0F, ppNone, 0x51, 0, ir.OpVsqrtps), rm(map0F, pp66, 0x51, 1, ir.OpVsqrtpd),
	scalar(ppF3, 0x58, 0, ir.OpVaddss), scalar(ppF2, 0x58, 1, ir.OpVaddsd),
	scalar(ppF3, 0x5c, 0, ir.OpVsubss), scalar(ppF2, 0x5c, 1, ir.OpVsubsd),
	scalar(ppF3, 0x59, 0, ir.OpVmulss), scalar(ppF2, 0x59, 1, ir.OpVmulsd),
	scalar(ppF3, 0x5e, 0, ir.OpVdivss), scalar(ppF2, 0x5e, 1, ir.OpVdivsd),
	{map0F38, pp66, 0xb8, 0, -1, entry{op: ir.OpVfmadd231ps, form: formRVM}},
	{map0F38, pp66, 0xb8, 1, -1, entry{op: ir.OpVfmadd231pd, form: formRVM}},
	rm(map0F, ppNone, 0x5b, 0, ir.OpVcvtdq2ps), rm(map0F, pp66, 0x5b, 0, ir.OpVcvtps2dq),
	rm(map0F, ppF3, 0x5b, 0, ir.OpVcvttps2dq),

	// shuffles and unpacks
	rvm(map0F, ppNone, 0x14, 0, ir.OpVunpcklps), rvm(map0F, pp66, 0x14, 1, ir.OpVunpcklpd),
	rvm(map0F, ppNone, 0x15, 0, ir.OpVunpckhps), rvm(map0F, pp66, 0x15, 1, ir.OpVunpckhpd),
	rvm(map0F, pp66, 0x62, 0, ir.OpVpunpckldq), rvm(map0F, pp66, 0x6a, 0, ir.OpVpunpckhdq),
	rvm(map0F, pp66, 0x6c, 1, ir.OpVpunpcklqdq), rvm(map0F, pp66, 0x6d, 1, ir.OpVpunpckhqdq),
	rvm(map0F, pp66, 0x6b, 0, ir.OpVpackssdw), rvm(map0F, pp66, 0x67, wig, ir.OpVpackuswb),
	rvm(map0F38, pp66, 0x00, wig, ir.OpVpshufb), rm(map0F, pp66, 0x70, 0, ir.OpVpshufd),
	rvm(map0F, ppNone, 0xc6, 0, ir.OpVshufps), rvm(map0F, pp66, 0xc6, 1, ir.OpVshufpd),
	rvm(map0F3A, pp66, 0x0f, wig, ir.OpVpalignr),
	rvm(map0F38, pp66, 0x36, 0, ir.OpVpermd), rvm(map0F38, pp66, 0x16, 0, ir.OpVpermps),
	rm(map0F3A, pp66, 0x00, 1, ir.OpVpermq),
	rvm(map0F38, pp66, 0x76, 0, ir.OpVpermi2d), rvm(map0F38, pp66, 0x7e, 0, ir.OpVpermt2d),
	rvm(map0F3A, pp66, 0x43, 0, ir.OpVshufi32x4), rvm(map0F3A, pp66, 0x43, 1, ir.OpVshufi64x2),

	// lane insert and extract
	mr(map0F3A, pp66, 0x39, 0, ir.OpVextracti32x4).rmAs(widthXMM),
	mr(map0F3A, pp66, 0x3b, 1, ir.OpVextracti64x4).rmAs(widthYMM),
	rvm(map0F3A, pp66, 0x38, 0, ir.OpVinserti32x4).rmAs(widthXMM),
	rvm(map0F3A, pp66, 0x3a, 1, ir.OpVinserti64x4).rmAs(widthYMM),

	// broadcast, compress, narrowing moves
	rm(map0F38, pp66, 0x58, 0, ir.OpVpbroadcastd).rmAs(widthXMM), rm(map0F38, pp66, 0x59, 1, ir.OpVpbroadcastq).rmAs(widthXMM),
	rm(map0F38, pp66, 0x18, 0, ir.OpVbroadcastss).rmAs(widthXMM), rm(map0F38, pp66, 0x19, 1, ir.OpVbroadcastsd).rmAs(widthXMM),
	mr(map0F38, pp66, 0x8b, 0, ir.OpVpcompressd), rm(map0F38, pp66, 0x89, 0, ir.OpVpexpandd),
	mr(map0F38, ppF3, 0x31, 0, ir.OpVpmovdb).rmAs(widthXMM), mr(map0F38, ppF3, 0x35, 0, ir.OpVpmovqd).rmAs(widthHalf),

	// compares into a mask register
	{map0F, pp66, 0x76, 0, -1, entry{op: ir.OpVpcmpeqd, form: formKRVM}},
	{map0F, pp66, 0x66, 0, -1, entry{op: ir.OpVpcmpgtd, form: formKRVM}},
	{map0F3A, pp66, 0x1f, 0, -1, entry{op: ir.OpVpcmpd, form: formKRVM}},
}

var table = func() map[key]entry {
	t := make(map[key]entry, len(rows))
	for _, r := range rows {
		k := key{r.mmap, r.pp, r.op, r.w, r.ext}
		if _, dup := t[k]; dup {
			panic("decode: duplicate table row for " + r.entry.op.String())
		}
		t[k] = r.entry
	}
	return t
}()

// lookup finds the entry for an encoding, trying the exact W before a
// W-ignored row.
func lookup(mmap, pp, op uint8, w bool, reg uint8) (entry, bool) {
	wb := int8(0)
	if w {
		wb = 1
	}
	for _, ext := range []int8{int8(reg), -1} {
		for _, ww := range []int8{wb, wig} {
			if e, ok := table[key{mmap, pp, op, ww, ext}]; ok {
				return e, true
			}
		}
	}
	return entry{}, false
}

// Known lists the opcodes the decoder can produce from EVEX bytes.
func Known() []ir.Opcode {
	seen := map[ir.Opcode]bool{}
	var out []ir.Opcode
	for _, r := range rows {
		if !seen[r.entry.op] {
			seen[r.entry.op] = true
			out = append(out, r.entry.op)
		}
	}
	return out
}
