package rewrite

import (
	"fmt"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/remap"
	"github.com/colorfulnotion/avx2rw/rwerrors"
)

// EmitHalf builds the operation on one 256-bit half (0 lower, 1 upper).
// Register arguments are the pair members standing in for the wide
// operands; RegNull stands for a non-wide operand, which the emitter
// supplies itself (a memory half, an immediate, a shift count).
type EmitHalf func(dst regs.Reg, srcs []regs.Reg, half int) *ir.Instr

// The lower half of a wide register is the mid register of the same index
// (physical below 16, spill slot otherwise); the upper half lives in the
// wide area.
func loadLowerHalf(dst, wide regs.Reg) *ir.Instr {
	if k := wide.Index(); k < regs.NumPhysical {
		return ir.NewMeta(ir.OpVmovdqa, []ir.Opnd{ir.RegOpnd(dst)}, []ir.Opnd{ir.RegOpnd(regs.YMM(k))})
	}
	return ir.RestoreFromTLS(dst, wide.Index(), ir.HalfSize)
}

func storeLowerHalf(src, wide regs.Reg) *ir.Instr {
	if k := wide.Index(); k < regs.NumPhysical {
		return ir.NewMeta(ir.OpVmovdqa, []ir.Opnd{ir.RegOpnd(regs.YMM(k))}, []ir.Opnd{ir.RegOpnd(src)})
	}
	return ir.SaveToTLS(src, wide.Index(), ir.HalfSize)
}

func half(p remap.Pair, h int) regs.Reg {
	if h == 0 {
		return p.Lower
	}
	return p.Upper
}

// WideOp rewrites an instruction with 512-bit operands into two 256-bit
// operations. Every distinct wide operand is given a pair of physical
// registers by the remapping allocator for the duration of the
// instruction: the pair is saved, loaded with both halves, operated on,
// written back (destination only) and restored. dst is RegNull for a
// memory destination; srcs entries are RegNull for non-wide sources.
// Physical registers the instruction names are never chosen for a pair.
//
// The operation must act independently on each 256-bit half.
func (e *Engine) WideOp(list *ir.List, in *ir.Instr, op EmitHalf, dst regs.Reg, srcs []regs.Reg) (Chain, error) {
	operands := append([]regs.Reg{dst}, srcs...)
	for _, r := range operands {
		if r != regs.RegNull && r.Class() != regs.ClassZMM {
			return Chain{}, fmt.Errorf("wide operand %s: %w", r, rwerrors.ErrInvalidOperand)
		}
	}

	s := e.session
	prev := s.UsedBitmap()
	var pinned []regs.Reg
	defer func() {
		for _, z := range pinned {
			s.ReleaseWide(z.Index())
		}
		s.SetUsedBitmap(prev)
	}()

	homes := operands
	if in != nil {
		homes = append(homes, in.Regs()...)
	}
	for _, r := range homes {
		if r.IsVector() && r.Index() < regs.NumPhysical {
			s.MarkUsed(r.Index())
		}
	}

	pairs := make(map[regs.Reg]remap.Pair, len(operands))
	var pro, epi []*ir.Instr
	pin := func(z regs.Reg, read bool) error {
		if z == regs.RegNull {
			return nil
		}
		if _, ok := pairs[z]; ok {
			return nil
		}
		p, err := s.RemapWide(z)
		if err != nil {
			return err
		}
		pinned = append(pinned, z)
		pairs[z] = p
		pro = append(pro, save(p.Lower), save(p.Upper))
		if read {
			pro = append(pro, loadLowerHalf(p.Lower, z), ir.RestoreFromWide(p.Upper, z.Index(), 1))
		}
		// restored in reverse pin order
		epi = append([]*ir.Instr{restore(p.Lower), restore(p.Upper)}, epi...)
		return nil
	}
	for _, z := range srcs {
		if err := pin(z, true); err != nil {
			return Chain{}, err
		}
	}
	if err := pin(dst, false); err != nil {
		return Chain{}, err
	}

	instrs := pro
	for h := 0; h < 2; h++ {
		hs := make([]regs.Reg, len(srcs))
		for i, z := range srcs {
			if z != regs.RegNull {
				hs[i] = half(pairs[z], h)
			}
		}
		var hd regs.Reg
		if dst != regs.RegNull {
			hd = half(pairs[dst], h)
		}
		instrs = append(instrs, op(hd, hs, h))
	}
	if dst != regs.RegNull {
		p := pairs[dst]
		instrs = append(instrs, storeLowerHalf(p.Lower, dst), ir.SaveToWide(p.Upper, dst.Index(), 1))
	}
	instrs = append(instrs, epi...)

	log.Trace(log.RewriteMonitoring, "wide", "dst", dst, "pairs", len(pairs), "len", len(instrs))
	return Chain{
		First:    e.finish(list, in, instrs),
		Kind:     KindWide,
		Case:     -1,
		Strategy: StrategyRemap,
	}, nil
}
