package rewrite

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/remap"
	"github.com/colorfulnotion/avx2rw/rwerrors"
)

// Emit builds the operation of a binary shape on the registers chosen by
// the engine. A RegNull argument stands for the original non-register
// operand in that position.
type Emit func(dst, src1, src2 regs.Reg) *ir.Instr

// EmitUnary is Emit for one source.
type EmitUnary func(dst, src regs.Reg) *ir.Instr

// Kind is the operand shape a chain was produced for.
type Kind uint8

const (
	KindNone Kind = iota
	KindBinary
	KindUnary
	KindWide
)

// Chain is the replacement produced for one instruction.
type Chain struct {
	First    *ir.Instr
	Kind     Kind
	Case     int    // 0..7 binary, 0..3 unary
	Variant  string // aliasing variant of cases 5, 6, 7
	Strategy Strategy
}

func (c Chain) Len() int { return ir.ChainLen(c.First) }

// Label names the case for reports and metrics, e.g. "bin1" or "bin7/src2=dst".
func (c Chain) Label() string {
	var s string
	switch c.Kind {
	case KindBinary:
		s = fmt.Sprintf("bin%d", c.Case)
	case KindUnary:
		s = fmt.Sprintf("un%d", c.Case)
	case KindWide:
		return "wide"
	default:
		return "none"
	}
	if c.Variant != "" {
		s += "/" + c.Variant
	}
	return s
}

// Engine rewrites single instructions whose register operands may be
// extended into chains that only name physical registers. Values of
// extended registers live in their spill area slot; scratch registers are
// saved to and restored from their own slot around every use.
type Engine struct {
	session *remap.Session
}

func NewEngine(s *remap.Session) *Engine {
	return &Engine{session: s}
}

func (e *Engine) Session() *remap.Session { return e.session }

// All spill traffic moves 32 bytes so that restoring a scratch register
// never drops its upper half and a 128-bit result stores its zeroed upper half.
func save(r regs.Reg) *ir.Instr    { return ir.SaveToTLS(r, r.Index(), ir.HalfSize) }
func restore(r regs.Reg) *ir.Instr { return ir.RestoreFromTLS(r, r.Index(), ir.HalfSize) }

func load(scratch, logical regs.Reg) *ir.Instr {
	return ir.RestoreFromTLS(scratch, logical.Index(), ir.HalfSize)
}

func persist(scratch, logical regs.Reg) *ir.Instr {
	return ir.SaveToTLS(scratch, logical.Index(), ir.HalfSize)
}

// as returns r viewed with the class of like.
func as(r, like regs.Reg) regs.Reg {
	v, err := regs.FromIndex(like.Class(), r.Index())
	if err != nil {
		return r
	}
	return v
}

func checkNarrow(operands ...regs.Reg) error {
	for _, r := range operands {
		if r == regs.RegNull {
			continue
		}
		if c := r.Class(); c != regs.ClassXMM && c != regs.ClassYMM {
			return fmt.Errorf("operand %s: %w", r, rwerrors.ErrNotSupported)
		}
	}
	return nil
}

// allocator hands out scratch registers for one rewrite.
type allocator struct {
	e        *Engine
	st       Strategy
	prevUsed uint16
	remapped [][2]regs.Reg
}

// begin marks the physical operands as used for the remap strategy so the
// allocator never returns one of them.
func (e *Engine) begin(st Strategy, operands ...regs.Reg) *allocator {
	a := &allocator{e: e, st: st, prevUsed: e.session.UsedBitmap()}
	if st == StrategyRemap {
		for _, r := range operands {
			if r.IsVector() && !r.IsExtended() {
				e.session.MarkUsed(r.Index())
			}
		}
	}
	return a
}

func (a *allocator) done() {
	for _, m := range a.remapped {
		a.e.session.ReleaseExtended(m[0], m[1])
	}
	a.e.session.SetUsedBitmap(a.prevUsed)
}

// remap asks the session for a free register. When the probe below the
// preferred register finds nothing, any unused spill pool slot will do.
func (a *allocator) remap(logical regs.Reg) (regs.Reg, error) {
	r, err := a.e.session.RemapExtended(logical)
	if err == nil {
		a.remapped = append(a.remapped, [2]regs.Reg{logical, r})
		return r, nil
	}
	if !errors.Is(err, rwerrors.ErrNoFreeRegister) {
		return regs.RegNull, err
	}
	pool := regs.SpillFor(logical.Class())
	for i := 0; i < pool.Len(); i++ {
		s := pool.Slot(i)
		if !a.e.session.IsUsed(s.Index()) {
			a.e.session.MarkUsed(s.Index())
			return s, nil
		}
	}
	return regs.RegNull, err
}

// dynamic picks the first free slot for logical's class.
func (a *allocator) dynamic(logical regs.Reg, avoids ...regs.Reg) (regs.Reg, error) {
	if a.st == StrategyRemap {
		return a.remap(logical)
	}
	return regs.SpillFor(logical.Class()).PickAvoiding(avoids...)
}

// slot returns fixed slot i for logical's class.
func (a *allocator) slot(logical regs.Reg, i int) (regs.Reg, error) {
	if a.st == StrategyRemap {
		return a.remap(logical)
	}
	return regs.SpillFor(logical.Class()).Slot(i), nil
}

// pick follows the strategy: fixed slot i or the first free slot.
func (a *allocator) pick(logical regs.Reg, i int, avoids ...regs.Reg) (regs.Reg, error) {
	if a.st == StrategyFixed {
		return a.slot(logical, i)
	}
	return a.dynamic(logical, avoids...)
}

// finish detaches the original instruction, links the replacement and
// stamps the application address on the non-meta instructions.
func (e *Engine) finish(list *ir.List, in *ir.Instr, instrs []*ir.Instr) *ir.Instr {
	var addr uint64
	if in != nil {
		addr = in.Addr
		if list != nil && in.List() == list {
			list.Remove(in)
		}
		ir.Destroy(in)
	}
	for _, x := range instrs {
		if !x.Meta {
			x.Addr = addr
		}
	}
	return ir.Concat(instrs...)
}

func ext(r regs.Reg) bool { return r.IsExtended() }

// BinOp rewrites dst = op(src1, src2). The case is selected from which
// operands are extended: bit 0 src1, bit 1 src2, bit 2 dst.
//
// On success the original instruction is removed from list and destroyed
// and the returned chain is unlinked; inserting it is up to the caller. On
// error the instruction is left untouched.
func (e *Engine) BinOp(list *ir.List, in *ir.Instr, op Emit, src1, src2, dst regs.Reg, st Strategy) (Chain, error) {
	if err := checkNarrow(src1, src2, dst); err != nil {
		return Chain{}, err
	}
	st = resolve(st, src1, src2, dst)
	a := e.begin(st, src1, src2, dst)
	defer a.done()

	flag := 0
	if ext(src1) {
		flag |= 1
	}
	if ext(src2) {
		flag |= 2
	}
	if ext(dst) {
		flag |= 4
	}

	var (
		instrs  []*ir.Instr
		variant string
		err     error
	)
	switch flag {
	case 0:
		instrs = []*ir.Instr{op(dst, src1, src2)}

	case 1:
		var s regs.Reg
		if s, err = a.dynamic(src1, src2, dst); err != nil {
			break
		}
		instrs = []*ir.Instr{save(s), load(s, src1), op(dst, s, src2), restore(s)}

	case 2:
		var s regs.Reg
		if s, err = a.dynamic(src2, src1, dst); err != nil {
			break
		}
		instrs = []*ir.Instr{save(s), load(s, src2), op(dst, src1, s), restore(s)}

	case 3:
		var s1, s2 regs.Reg
		if s1, err = a.pick(src1, 0, dst); err != nil {
			break
		}
		if s2, err = a.pick(src2, 1, dst, s1); err != nil {
			break
		}
		instrs = []*ir.Instr{
			save(s1), save(s2), load(s1, src1), load(s2, src2),
			op(dst, s1, s2),
			restore(s1), restore(s2),
		}

	case 4:
		var d regs.Reg
		if d, err = a.pick(dst, 0, src1, src2); err != nil {
			break
		}
		instrs = []*ir.Instr{save(d), op(d, src1, src2), persist(d, dst), restore(d)}

	case 5:
		if src1 == dst {
			variant = "src1=dst"
			var s regs.Reg
			if s, err = a.pick(src1, 0, src2); err != nil {
				break
			}
			instrs = []*ir.Instr{save(s), load(s, src1), op(s, s, src2), persist(s, dst), restore(s)}
			break
		}
		var s1, d regs.Reg
		if s1, err = a.pick(src1, 0, src2); err != nil {
			break
		}
		if d, err = a.pick(dst, 1, src2, s1); err != nil {
			break
		}
		instrs = []*ir.Instr{
			save(s1), save(d), load(s1, src1),
			op(d, s1, src2),
			persist(d, dst), restore(s1), restore(d),
		}

	case 6:
		if src2 == dst {
			variant = "src2=dst"
			var s regs.Reg
			if s, err = a.pick(src2, 0, src1); err != nil {
				break
			}
			instrs = []*ir.Instr{save(s), load(s, src2), op(s, src1, s), persist(s, dst), restore(s)}
			break
		}
		var s2, d regs.Reg
		if s2, err = a.pick(src2, 0, src1); err != nil {
			break
		}
		if d, err = a.pick(dst, 1, src1, s2); err != nil {
			break
		}
		instrs = []*ir.Instr{
			save(s2), save(d), load(s2, src2),
			op(d, src1, s2),
			persist(d, dst), restore(s2), restore(d),
		}

	case 7:
		// no operand is physical, so the fixed slots are always safe here
		if src1 == src2 && src2 == dst {
			variant = "all"
			var s regs.Reg
			if s, err = a.slot(src1, 0); err != nil {
				break
			}
			instrs = []*ir.Instr{save(s), load(s, src1), op(s, s, s), persist(s, dst), restore(s)}
			break
		}
		var s1, s2, d regs.Reg
		if s1, err = a.slot(src1, 0); err != nil {
			break
		}
		if s2, err = a.slot(src2, 1); err != nil {
			break
		}
		switch {
		case src1 == dst:
			variant, d = "src1=dst", s1
		case src2 == dst:
			variant, d = "src2=dst", s2
		default:
			d = as(s1, dst)
		}
		instrs = []*ir.Instr{
			save(s1), save(s2), load(s1, src1), load(s2, src2),
			op(d, s1, s2),
			persist(d, dst), restore(s1), restore(s2),
		}

	default:
		err = fmt.Errorf("case %d: pattern not supported: %w", flag, rwerrors.ErrNotSupported)
	}
	if err != nil {
		return Chain{}, err
	}

	log.Trace(log.RewriteMonitoring, "binop", "case", flag, "variant", variant, "strategy", st,
		"dst", dst, "src1", src1, "src2", src2, "len", len(instrs))
	return Chain{
		First:    e.finish(list, in, instrs),
		Kind:     KindBinary,
		Case:     flag,
		Variant:  variant,
		Strategy: st,
	}, nil
}

// Unary rewrites dst = op(src): direct, src extended, dst extended or both.
func (e *Engine) Unary(list *ir.List, in *ir.Instr, op EmitUnary, src, dst regs.Reg, st Strategy) (Chain, error) {
	if err := checkNarrow(src, dst); err != nil {
		return Chain{}, err
	}
	st = resolve(st, src, dst)
	a := e.begin(st, src, dst)
	defer a.done()

	flag := 0
	if ext(src) {
		flag |= 1
	}
	if ext(dst) {
		flag |= 2
	}

	var (
		instrs []*ir.Instr
		err    error
	)
	switch flag {
	case 0:
		instrs = []*ir.Instr{op(dst, src)}
	case 1:
		var s regs.Reg
		if s, err = a.pick(src, 0, dst); err != nil {
			break
		}
		instrs = []*ir.Instr{save(s), load(s, src), op(dst, s), restore(s)}
	case 2:
		var d regs.Reg
		if d, err = a.pick(dst, 0, src); err != nil {
			break
		}
		instrs = []*ir.Instr{save(d), op(d, src), persist(d, dst), restore(d)}
	case 3:
		var s regs.Reg
		if s, err = a.slot(src, 0); err != nil {
			break
		}
		instrs = []*ir.Instr{save(s), load(s, src), op(as(s, dst), s), persist(s, dst), restore(s)}
	}
	if err != nil {
		return Chain{}, err
	}

	log.Trace(log.RewriteMonitoring, "unary", "case", flag, "strategy", st, "dst", dst, "src", src, "len", len(instrs))
	return Chain{
		First:    e.finish(list, in, instrs),
		Kind:     KindUnary,
		Case:     flag,
		Strategy: st,
	}, nil
}
