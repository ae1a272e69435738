package rewrite

import (
	"fmt"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/rwerrors"
)

// Context is what a handler needs to rewrite one instruction.
type Context struct {
	Engine   *Engine
	List     *ir.List
	Strategy Strategy
}

// Handler rewrites instructions of one opcode. A Chain with a nil First
// means the instruction is left as is.
type Handler interface {
	Name() string
	Rewrite(c *Context, in *ir.Instr) (Chain, error)
}

// noop leaves the instruction untouched.
type noop struct{}

func (noop) Name() string { return "none" }

func (noop) Rewrite(*Context, *ir.Instr) (Chain, error) { return Chain{}, nil }

// unsupported rejects the instruction with a reason.
type unsupported struct {
	reason string
}

func (u unsupported) Name() string { return "unsupported: " + u.reason }

func (u unsupported) Rewrite(_ *Context, in *ir.Instr) (Chain, error) {
	return Chain{}, fmt.Errorf("%s: %s: %w", in.Op, u.reason, rwerrors.ErrNotSupported)
}

// vecop handles element-wise vector operations with one or two register
// or memory sources and optional trailing immediates.
type vecop struct {
	narrow    ir.Opcode // opcode emitted on the narrow target, OpInvalid keeps the original
	crossLane bool      // moves data across 128-bit lanes, cannot be split
}

func (v vecop) Name() string {
	switch {
	case v.narrow != ir.OpInvalid:
		return "vecop->" + v.narrow.String()
	case v.crossLane:
		return "vecop (xmm/ymm only)"
	}
	return "vecop"
}

func notSupported(in *ir.Instr, why string) error {
	return fmt.Errorf("%s: %s: %w", in, why, rwerrors.ErrNotSupported)
}

func regOf(o ir.Opnd) regs.Reg {
	if o.Kind == ir.OpndReg {
		return o.Reg
	}
	return regs.RegNull
}

func orOpnd(r regs.Reg, o ir.Opnd) ir.Opnd {
	if r != regs.RegNull {
		return ir.RegOpnd(r)
	}
	return o
}

// halfOpnd selects one 256-bit half of a full-width memory operand. Other
// operands are returned as is.
func halfOpnd(o ir.Opnd, h int) ir.Opnd {
	if o.Kind == ir.OpndMem && o.Size == 64 {
		o.Disp += int64(h * ir.HalfSize)
		o.Size = ir.HalfSize
	}
	return o
}

func (v vecop) Rewrite(c *Context, in *ir.Instr) (Chain, error) {
	if in.Mask != regs.RegNull && in.Mask != regs.K(0) {
		return Chain{}, notSupported(in, "masked form")
	}
	if in.Broadcast {
		return Chain{}, notSupported(in, "embedded broadcast")
	}
	if len(in.Dsts) != 1 {
		return Chain{}, notSupported(in, "destination count")
	}
	var srcs, imms []ir.Opnd
	for _, o := range in.Srcs {
		if o.Kind == ir.OpndImm {
			imms = append(imms, o)
			continue
		}
		if len(imms) > 0 {
			return Chain{}, notSupported(in, "immediate before operand")
		}
		srcs = append(srcs, o)
	}
	wide := false
	for _, o := range append([]ir.Opnd{in.Dsts[0]}, srcs...) {
		switch o.Kind {
		case ir.OpndReg:
			if !o.Reg.IsVector() {
				return Chain{}, notSupported(in, "non-vector register operand")
			}
			if o.Reg.Class() == regs.ClassZMM {
				wide = true
			}
		case ir.OpndMem:
			if o.Index.IsVector() {
				return Chain{}, notSupported(in, "vector index memory operand")
			}
		default:
			return Chain{}, notSupported(in, "operand kind")
		}
	}

	op := v.narrow
	if op == ir.OpInvalid {
		op = in.Op
	}
	if wide {
		return v.rewriteWide(c, in, op, srcs, imms)
	}

	dstO := in.Dsts[0]
	switch len(srcs) {
	case 1:
		srcO := srcs[0]
		emit := func(d, s regs.Reg) *ir.Instr {
			return ir.New(op, []ir.Opnd{orOpnd(d, dstO)}, append([]ir.Opnd{orOpnd(s, srcO)}, imms...))
		}
		return c.Engine.Unary(c.List, in, emit, regOf(srcO), regOf(dstO), c.Strategy)
	case 2:
		s1O, s2O := srcs[0], srcs[1]
		emit := func(d, a, b regs.Reg) *ir.Instr {
			return ir.New(op, []ir.Opnd{orOpnd(d, dstO)}, append([]ir.Opnd{orOpnd(a, s1O), orOpnd(b, s2O)}, imms...))
		}
		return c.Engine.BinOp(c.List, in, emit, regOf(s1O), regOf(s2O), regOf(dstO), c.Strategy)
	}
	return Chain{}, notSupported(in, fmt.Sprintf("%d sources", len(srcs)))
}

func (v vecop) rewriteWide(c *Context, in *ir.Instr, op ir.Opcode, srcs, imms []ir.Opnd) (Chain, error) {
	if v.crossLane {
		return Chain{}, notSupported(in, "lane crossing on wide registers")
	}
	if len(srcs) == 0 || len(srcs) > 2 {
		return Chain{}, notSupported(in, fmt.Sprintf("%d sources", len(srcs)))
	}
	dstO := in.Dsts[0]
	dst := regOf(dstO)
	if dst != regs.RegNull && dst.Class() != regs.ClassZMM {
		return Chain{}, notSupported(in, "narrow destination of wide operation")
	}
	if dstO.Kind == ir.OpndMem && dstO.Size != 64 {
		return Chain{}, notSupported(in, "wide memory operand without zmmword size")
	}
	// the shift count is shared by both halves
	count := -1
	if in.Op.ShiftsByCount() && len(srcs) == 2 {
		count = 1
	}
	wsrcs := make([]regs.Reg, len(srcs))
	for i, o := range srcs {
		r := regOf(o)
		if i == count {
			if o.Kind == ir.OpndMem && o.Size != 16 {
				return Chain{}, notSupported(in, "shift count memory operand is not 16 bytes")
			}
			if r != regs.RegNull && r.Class() != regs.ClassXMM {
				return Chain{}, notSupported(in, "shift count register is not xmm")
			}
		} else if o.Kind == ir.OpndMem && o.Size != 64 {
			return Chain{}, notSupported(in, "wide memory operand without zmmword size")
		}
		switch {
		case r.Class() == regs.ClassZMM:
			wsrcs[i] = r
		case r != regs.RegNull && !r.IsPhysical():
			return Chain{}, notSupported(in, "extended narrow operand of wide operation")
		}
	}
	emit := func(d regs.Reg, hs []regs.Reg, h int) *ir.Instr {
		out := make([]ir.Opnd, 0, len(srcs)+len(imms))
		for i, o := range srcs {
			if hs[i] != regs.RegNull {
				out = append(out, ir.RegOpnd(hs[i]))
			} else {
				out = append(out, halfOpnd(o, h))
			}
		}
		out = append(out, imms...)
		dsts := []ir.Opnd{halfOpnd(dstO, h)}
		if d != regs.RegNull {
			dsts[0] = ir.RegOpnd(d)
		}
		return ir.New(op, dsts, out)
	}
	return c.Engine.WideOp(c.List, in, emit, dst, wsrcs)
}
