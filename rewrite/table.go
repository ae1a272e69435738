package rewrite

import (
	"fmt"

	"github.com/colorfulnotion/avx2rw/ir"
)

// Table maps every opcode of the wide set to its handler. Lookup is an
// array index from the first wide opcode.
type Table struct {
	handlers [ir.NumWideOps]Handler
}

// NewTable returns a table with every supported opcode registered and the
// rest set to the no-op handler.
func NewTable() *Table {
	t := &Table{}
	for i := range t.handlers {
		t.handlers[i] = noop{}
	}
	t.registerDefaults()
	return t
}

// Register installs h for op, replacing the previous handler.
func (t *Table) Register(op ir.Opcode, h Handler) error {
	if !op.IsWide() {
		return fmt.Errorf("register %s: opcode outside %s..%s", op, ir.OpFirstWide, ir.OpLastWide)
	}
	t.handlers[op-ir.OpFirstWide] = h
	return nil
}

// Dispatch returns the handler of op; opcodes outside the wide set get the
// no-op handler.
func (t *Table) Dispatch(op ir.Opcode) Handler {
	if !op.IsWide() {
		return noop{}
	}
	return t.handlers[op-ir.OpFirstWide]
}

func (t *Table) register(h Handler, ops ...ir.Opcode) {
	for _, op := range ops {
		if err := t.Register(op, h); err != nil {
			panic(err)
		}
	}
}

func (t *Table) registerDefaults() {
	same := vecop{}
	t.register(same,
		ir.OpVmovss, ir.OpVmovsd, ir.OpVmovups, ir.OpVmovupd, ir.OpVmovaps, ir.OpVmovapd,
		ir.OpVpaddb, ir.OpVpaddw, ir.OpVpaddd, ir.OpVpaddq,
		ir.OpVpsubb, ir.OpVpsubw, ir.OpVpsubd, ir.OpVpsubq,
		ir.OpVpmulld, ir.OpVpmaxsd, ir.OpVpminsd, ir.OpVpmaxud, ir.OpVpminud, ir.OpVpabsd,
		ir.OpVpsllw, ir.OpVpslld, ir.OpVpsllq, ir.OpVpsrlw, ir.OpVpsrld, ir.OpVpsrlq,
		ir.OpVpsraw, ir.OpVpsrad, ir.OpVpsllvd, ir.OpVpsllvq, ir.OpVpsrlvd, ir.OpVpsrlvq, ir.OpVpsravd,
		ir.OpVaddps, ir.OpVaddpd, ir.OpVaddss, ir.OpVaddsd,
		ir.OpVsubps, ir.OpVsubpd, ir.OpVsubss, ir.OpVsubsd,
		ir.OpVmulps, ir.OpVmulpd, ir.OpVmulss, ir.OpVmulsd,
		ir.OpVdivps, ir.OpVdivpd, ir.OpVdivss, ir.OpVdivsd,
		ir.OpVminps, ir.OpVminpd, ir.OpVmaxps, ir.OpVmaxpd, ir.OpVsqrtps, ir.OpVsqrtpd,
		ir.OpVunpcklps, ir.OpVunpcklpd, ir.OpVunpckhps, ir.OpVunpckhpd,
		ir.OpVpunpckldq, ir.OpVpunpckhdq, ir.OpVpunpcklqdq, ir.OpVpunpckhqdq,
		ir.OpVpackssdw, ir.OpVpackuswb, ir.OpVpshufb, ir.OpVpshufd,
		ir.OpVshufps, ir.OpVshufpd, ir.OpVpalignr,
		ir.OpVcvtdq2ps, ir.OpVcvtps2dq, ir.OpVcvttps2dq,
	)
	t.register(vecop{crossLane: true}, ir.OpVpermd, ir.OpVpermps, ir.OpVpermq)

	t.register(vecop{narrow: ir.OpVmovdqa}, ir.OpVmovdqa32, ir.OpVmovdqa64)
	t.register(vecop{narrow: ir.OpVmovdqu}, ir.OpVmovdqu8, ir.OpVmovdqu16, ir.OpVmovdqu32, ir.OpVmovdqu64)
	t.register(vecop{narrow: ir.OpVpand}, ir.OpVpandd, ir.OpVpandq)
	t.register(vecop{narrow: ir.OpVpandn}, ir.OpVpandnd, ir.OpVpandnq)
	t.register(vecop{narrow: ir.OpVpor}, ir.OpVpord, ir.OpVporq)
	t.register(vecop{narrow: ir.OpVpxor}, ir.OpVpxord, ir.OpVpxorq)

	t.register(unsupported{"no narrow equivalent"},
		ir.OpVpmullq, ir.OpVpabsq, ir.OpVpsraq,
		ir.OpVpcompressd, ir.OpVpexpandd, ir.OpVpmovdb, ir.OpVpmovqd)
	t.register(unsupported{"three sources"},
		ir.OpVpternlogd, ir.OpVpternlogq, ir.OpVpermi2d, ir.OpVpermt2d, ir.OpVfmadd231ps, ir.OpVfmadd231pd)
	t.register(unsupported{"broadcast"},
		ir.OpVpbroadcastd, ir.OpVpbroadcastq, ir.OpVbroadcastss, ir.OpVbroadcastsd)
	t.register(unsupported{"gather/scatter"},
		ir.OpVpgatherdd, ir.OpVpgatherdq, ir.OpVgatherdps, ir.OpVpscatterdd, ir.OpVpscatterdq, ir.OpVscatterdps)
	t.register(unsupported{"mask register"},
		ir.OpKmovb, ir.OpKmovw, ir.OpKmovd, ir.OpKmovq, ir.OpKandw, ir.OpKorw, ir.OpKxorw, ir.OpKnotw,
		ir.OpKortestw, ir.OpVpcmpd, ir.OpVpcmpeqd, ir.OpVpcmpgtd)
	t.register(unsupported{"lane insert/extract"},
		ir.OpVextracti32x4, ir.OpVextracti64x4, ir.OpVinserti32x4, ir.OpVinserti64x4,
		ir.OpVshufi32x4, ir.OpVshufi64x2)
}

// CoverageEntry describes the handler installed for one opcode. Partial
// entries are rewritten in their xmm and ymm forms only.
type CoverageEntry struct {
	Op        ir.Opcode
	Handler   string
	Supported bool
	Partial   bool
}

// Coverage lists every wide opcode with its handler.
func (t *Table) Coverage() []CoverageEntry {
	out := make([]CoverageEntry, 0, ir.NumWideOps)
	for i, h := range t.handlers {
		_, isNoop := h.(noop)
		_, isUnsupported := h.(unsupported)
		v, isVecop := h.(vecop)
		out = append(out, CoverageEntry{
			Op:        ir.OpFirstWide + ir.Opcode(i),
			Handler:   h.Name(),
			Supported: !isNoop && !isUnsupported,
			Partial:   isVecop && v.crossLane,
		})
	}
	return out
}
