package ir

import "strings"

// Opcode identifies an instruction mnemonic. The wide instruction set
// occupies the contiguous range OpFirstWide..OpLastWide.
type Opcode uint16

const (
	OpInvalid Opcode = iota
	OpLegacy      // decoded instruction outside the vector model, kept as text
	OpWideUnknown // EVEX instruction the decoder has no mnemonic for

	// narrow target instructions emitted by the rewriter
	OpVmovdqu
	OpVmovdqa
	OpVpand
	OpVpandn
	OpVpor
	OpVpxor

	// wide instruction set
	OpVmovss
	OpVmovsd
	OpVmovups
	OpVmovupd
	OpVmovaps
	OpVmovapd
	OpVmovdqa32
	OpVmovdqa64
	OpVmovdqu8
	OpVmovdqu16
	OpVmovdqu32
	OpVmovdqu64
	OpVpaddb
	OpVpaddw
	OpVpaddd
	OpVpaddq
	OpVpsubb
	OpVpsubw
	OpVpsubd
	OpVpsubq
	OpVpmulld
	OpVpmullq
	OpVpmaxsd
	OpVpminsd
	OpVpmaxud
	OpVpminud
	OpVpabsd
	OpVpabsq
	OpVpandd
	OpVpandq
	OpVpandnd
	OpVpandnq
	OpVpord
	OpVporq
	OpVpxord
	OpVpxorq
	OpVpsllw
	OpVpslld
	OpVpsllq
	OpVpsrlw
	OpVpsrld
	OpVpsrlq
	OpVpsraw
	OpVpsrad
	OpVpsraq
	OpVpsllvd
	OpVpsllvq
	OpVpsrlvd
	OpVpsrlvq
	OpVpsravd
	OpVaddps
	OpVaddpd
	OpVaddss
	OpVaddsd
	OpVsubps
	OpVsubpd
	OpVsubss
	OpVsubsd
	OpVmulps
	OpVmulpd
	OpVmulss
	OpVmulsd
	OpVdivps
	OpVdivpd
	OpVdivss
	OpVdivsd
	OpVminps
	OpVminpd
	OpVmaxps
	OpVmaxpd
	OpVsqrtps
	OpVsqrtpd
	OpVunpcklps
	OpVunpcklpd
	OpVunpckhps
	OpVunpckhpd
	OpVpunpckldq
	OpVpunpckhdq
	OpVpunpcklqdq
	OpVpunpckhqdq
	OpVpackssdw
	OpVpackuswb
	OpVpshufb
	OpVpshufd
	OpVshufps
	OpVshufpd
	OpVpalignr
	OpVpermd
	OpVpermps
	OpVpermq
	OpVcvtdq2ps
	OpVcvtps2dq
	OpVcvttps2dq
	OpVpternlogd
	OpVpternlogq
	OpVpermi2d
	OpVpermt2d
	OpVfmadd231ps
	OpVfmadd231pd
	OpVpbroadcastd
	OpVpbroadcastq
	OpVbroadcastss
	OpVbroadcastsd
	OpVpgatherdd
	OpVpgatherdq
	OpVgatherdps
	OpVpscatterdd
	OpVpscatterdq
	OpVscatterdps
	OpKmovb
	OpKmovw
	OpKmovd
	OpKmovq
	OpKandw
	OpKorw
	OpKxorw
	OpKnotw
	OpKortestw
	OpVpcmpd
	OpVpcmpeqd
	OpVpcmpgtd
	OpVpcompressd
	OpVpexpandd
	OpVpmovdb
	OpVpmovqd
	OpVextracti32x4
	OpVextracti64x4
	OpVinserti32x4
	OpVinserti64x4
	OpVshufi32x4
	OpVshufi64x2

	numOpcodes
)

const (
	OpFirstWide = OpVmovss
	OpLastWide  = OpVshufi64x2

	// NumWideOps is the size of the wide range.
	NumWideOps = int(OpLastWide-OpFirstWide) + 1
)

var opNames = [numOpcodes]string{
	OpInvalid:       "invalid",
	OpLegacy:        "legacy",
	OpWideUnknown:   "evex?",
	OpVmovdqu:       "vmovdqu",
	OpVmovdqa:       "vmovdqa",
	OpVpand:         "vpand",
	OpVpandn:        "vpandn",
	OpVpor:          "vpor",
	OpVpxor:         "vpxor",
	OpVmovss:        "vmovss",
	OpVmovsd:        "vmovsd",
	OpVmovups:       "vmovups",
	OpVmovupd:       "vmovupd",
	OpVmovaps:       "vmovaps",
	OpVmovapd:       "vmovapd",
	OpVmovdqa32:     "vmovdqa32",
	OpVmovdqa64:     "vmovdqa64",
	OpVmovdqu8:      "vmovdqu8",
	OpVmovdqu16:     "vmovdqu16",
	OpVmovdqu32:     "vmovdqu32",
	OpVmovdqu64:     "vmovdqu64",
	OpVpaddb:        "vpaddb",
	OpVpaddw:        "vpaddw",
	OpVpaddd:        "vpaddd",
	OpVpaddq:        "vpaddq",
	OpVpsubb:        "vpsubb",
	OpVpsubw:        "vpsubw",
	OpVpsubd:        "vpsubd",
	OpVpsubq:        "vpsubq",
	OpVpmulld:       "vpmulld",
	OpVpmullq:       "vpmullq",
	OpVpmaxsd:       "vpmaxsd",
	OpVpminsd:       "vpminsd",
	OpVpmaxud:       "vpmaxud",
	OpVpminud:       "vpminud",
	OpVpabsd:        "vpabsd",
	OpVpabsq:        "vpabsq",
	OpVpandd:        "vpandd",
	OpVpandq:        "vpandq",
	OpVpandnd:       "vpandnd",
	OpVpandnq:       "vpandnq",
	OpVpord:         "vpord",
	OpVporq:         "vporq",
	OpVpxord:        "vpxord",
	OpVpxorq:        "vpxorq",
	OpVpsllw:        "vpsllw",
	OpVpslld:        "vpslld",
	OpVpsllq:        "vpsllq",
	OpVpsrlw:        "vpsrlw",
	OpVpsrld:        "vpsrld",
	OpVpsrlq:        "vpsrlq",
	OpVpsraw:        "vpsraw",
	OpVpsrad:        "vpsrad",
	OpVpsraq:        "vpsraq",
	OpVpsllvd:       "vpsllvd",
	OpVpsllvq:       "vpsllvq",
	OpVpsrlvd:       "vpsrlvd",
	OpVpsrlvq:       "vpsrlvq",
	OpVpsravd:       "vpsravd",
	OpVaddps:        "vaddps",
	OpVaddpd:        "vaddpd",
	OpVaddss:        "vaddss",
	OpVaddsd:        "vaddsd",
	OpVsubps:        "vsubps",
	OpVsubpd:        "vsubpd",
	OpVsubss:        "vsubss",
	OpVsubsd:        "vsubsd",
	OpVmulps:        "vmulps",
	OpVmulpd:        "vmulpd",
	OpVmulss:        "vmulss",
	OpVmulsd:        "vmulsd",
	OpVdivps:        "vdivps",
	OpVdivpd:        "vdivpd",
	OpVdivss:        "vdivss",
	OpVdivsd:        "vdivsd",
	OpVminps:        "vminps",
	OpVminpd:        "vminpd",
	OpVmaxps:        "vmaxps",
	OpVmaxpd:        "vmaxpd",
	OpVsqrtps:       "vsqrtps",
	OpVsqrtpd:       "vsqrtpd",
	OpVunpcklps:     "vunpcklps",
	OpVunpcklpd:     "vunpcklpd",
	OpVunpckhps:     "vunpckhps",
	OpVunpckhpd:     "vunpckhpd",
	OpVpunpckldq:    "vpunpckldq",
	OpVpunpckhdq:    "vpunpckhdq",
	OpVpunpcklqdq:   "vpunpcklqdq",
	OpVpunpckhqdq:   "vpunpckhqdq",
	OpVpackssdw:     "vpackssdw",
	OpVpackuswb:     "vpackuswb",
	OpVpshufb:       "vpshufb",
	OpVpshufd:       "vpshufd",
	OpVshufps:       "vshufps",
	OpVshufpd:       "vshufpd",
	OpVpalignr:      "vpalignr",
	OpVpermd:        "vpermd",
	OpVpermps:       "vpermps",
	OpVpermq:        "vpermq",
	OpVcvtdq2ps:     "vcvtdq2ps",
	OpVcvtps2dq:     "vcvtps2dq",
	OpVcvttps2dq:    "vcvttps2dq",
	OpVpternlogd:    "vpternlogd",
	OpVpternlogq:    "vpternlogq",
	OpVpermi2d:      "vpermi2d",
	OpVpermt2d:      "vpermt2d",
	OpVfmadd231ps:   "vfmadd231ps",
	OpVfmadd231pd:   "vfmadd231pd",
	OpVpbroadcastd:  "vpbroadcastd",
	OpVpbroadcastq:  "vpbroadcastq",
	OpVbroadcastss:  "vbroadcastss",
	OpVbroadcastsd:  "vbroadcastsd",
	OpVpgatherdd:    "vpgatherdd",
	OpVpgatherdq:    "vpgatherdq",
	OpVgatherdps:    "vgatherdps",
	OpVpscatterdd:   "vpscatterdd",
	OpVpscatterdq:   "vpscatterdq",
	OpVscatterdps:   "vscatterdps",
	OpKmovb:         "kmovb",
	OpKmovw:         "kmovw",
	OpKmovd:         "kmovd",
	OpKmovq:         "kmovq",
	OpKandw:         "kandw",
	OpKorw:          "korw",
	OpKxorw:         "kxorw",
	OpKnotw:         "knotw",
	OpKortestw:      "kortestw",
	OpVpcmpd:        "vpcmpd",
	OpVpcmpeqd:      "vpcmpeqd",
	OpVpcmpgtd:      "vpcmpgtd",
	OpVpcompressd:   "vpcompressd",
	OpVpexpandd:     "vpexpandd",
	OpVpmovdb:       "vpmovdb",
	OpVpmovqd:       "vpmovqd",
	OpVextracti32x4: "vextracti32x4",
	OpVextracti64x4: "vextracti64x4",
	OpVinserti32x4:  "vinserti32x4",
	OpVinserti64x4:  "vinserti64x4",
	OpVshufi32x4:    "vshufi32x4",
	OpVshufi64x2:    "vshufi64x2",
}

var opByName map[string]Opcode

func init() {
	opByName = make(map[string]Opcode, len(opNames))
	for op := OpFirstNarrow; op < numOpcodes; op++ {
		opByName[opNames[op]] = op
	}
}

// OpFirstNarrow is the first instruction the rewriter emits on its own.
const OpFirstNarrow = OpVmovdqu

func (op Opcode) String() string {
	if op >= numOpcodes {
		return "op?"
	}
	return opNames[op]
}

// IsWide reports whether op belongs to the wide instruction set.
func (op Opcode) IsWide() bool {
	return op >= OpFirstWide && op <= OpLastWide
}

// ShiftsByCount reports whether op takes a shift count from an xmm register
// or a 16-byte memory operand as its second source.
func (op Opcode) ShiftsByCount() bool {
	switch op {
	case OpVpsllw, OpVpslld, OpVpsllq, OpVpsrlw, OpVpsrld, OpVpsrlq, OpVpsraw, OpVpsrad, OpVpsraq:
		return true
	}
	return false
}

// NumOpcodes is the number of defined opcodes, OpInvalid included.
func NumOpcodes() int { return int(numOpcodes) }

// WideOpcodes lists the wide range in enum order.
func WideOpcodes() []Opcode {
	ops := make([]Opcode, 0, NumWideOps)
	for op := OpFirstWide; op <= OpLastWide; op++ {
		ops = append(ops, op)
	}
	return ops
}

// ParseOpcode looks up a mnemonic.
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opByName[strings.ToLower(strings.TrimSpace(name))]
	return op, ok
}
