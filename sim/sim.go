// Package sim executes instruction chains on a value-level model of the
// narrow target and of the wide source machine, so that a rewrite can be
// checked for preserving every logical register.
//
// Operations are modelled abstractly: each 64-bit lane of the result is a
// non-commutative mix of the corresponding source lanes, the opcode and
// the immediate. Moves copy. A source narrower than the destination
// contributes its lane 0 to every lane, as a shift count does.
package sim

import (
	"fmt"
	"math/bits"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/regs"
)

const (
	lanesZMM = 8
	lanesYMM = 4
	lanesXMM = 2
)

// Wide is the value of a 512-bit register as eight 64-bit lanes.
type Wide [lanesZMM]uint64

// Logical is the source machine: 32 wide registers whose low 256 and
// 128 bits are the mid and narrow registers of the same index.
type Logical struct {
	Z [regs.NumVector]Wide
}

// Machine is the narrow target: 16 physical mid registers and the spill area.
type Machine struct {
	Phys [regs.NumPhysical][lanesYMM]uint64
	TLS  [ir.TLSAreaSize / 8]uint64
}

var canonical = map[ir.Opcode]ir.Opcode{
	ir.OpVpandd: ir.OpVpand, ir.OpVpandq: ir.OpVpand,
	ir.OpVpandnd: ir.OpVpandn, ir.OpVpandnq: ir.OpVpandn,
	ir.OpVpord: ir.OpVpor, ir.OpVporq: ir.OpVpor,
	ir.OpVpxord: ir.OpVpxor, ir.OpVpxorq: ir.OpVpxor,
}

var moves = map[ir.Opcode]bool{
	ir.OpVmovdqu: true, ir.OpVmovdqa: true,
	ir.OpVmovdqa32: true, ir.OpVmovdqa64: true,
	ir.OpVmovdqu8: true, ir.OpVmovdqu16: true, ir.OpVmovdqu32: true, ir.OpVmovdqu64: true,
	ir.OpVmovups: true, ir.OpVmovupd: true, ir.OpVmovaps: true, ir.OpVmovapd: true,
}

func mix(op ir.Opcode, a, b uint64, imm int64) uint64 {
	if c, ok := canonical[op]; ok {
		op = c
	}
	x := a*0x9E3779B97F4A7C15 ^ bits.RotateLeft64(b, 23) ^ uint64(op)<<40 ^ uint64(imm)
	x ^= x >> 29
	return x * 0xBF58476D1CE4E5B9
}

func lanes(r regs.Reg) int {
	return r.Class().Size() / 8
}

// operand values read for one operation, widened to n lanes.
type source struct {
	v     [lanesZMM]uint64
	lanes int
}

// lane is lane i of the source for an n lane destination.
func (s source) lane(i, n int) uint64 {
	if s.lanes == 0 {
		return 0x5555555555555555
	}
	if s.lanes < n {
		return s.v[0]
	}
	return s.v[i]
}

// compute evaluates op for n destination lanes.
func compute(op ir.Opcode, srcs []source, imm int64, n int) [lanesZMM]uint64 {
	var out [lanesZMM]uint64
	for i := 0; i < n; i++ {
		if moves[op] && len(srcs) == 1 {
			out[i] = srcs[0].lane(i, n)
			continue
		}
		var a, b source
		if len(srcs) > 0 {
			a = srcs[0]
		}
		if len(srcs) > 1 {
			b = srcs[1]
		}
		out[i] = mix(op, a.lane(i, n), b.lane(i, n), imm)
	}
	return out
}

func split(in *ir.Instr) (dst ir.Opnd, srcs []ir.Opnd, imm int64, err error) {
	if len(in.Dsts) != 1 {
		return dst, nil, 0, fmt.Errorf("sim: %s: want one destination", in)
	}
	if in.Mask != regs.RegNull || in.Broadcast {
		return dst, nil, 0, fmt.Errorf("sim: %s: decorations not modelled", in)
	}
	for _, o := range in.Srcs {
		if o.Kind == ir.OpndImm {
			imm = o.Imm
			continue
		}
		srcs = append(srcs, o)
	}
	return in.Dsts[0], srcs, imm, nil
}

// Exec runs one instruction on the source machine. A narrow destination
// keeps lanes above 256 bits; a 128-bit destination zeroes lanes 2 and 3.
func (l *Logical) Exec(in *ir.Instr) error {
	dst, srcOps, imm, err := split(in)
	if err != nil {
		return err
	}
	srcs := make([]source, len(srcOps))
	for i, o := range srcOps {
		if o.Kind != ir.OpndReg || !o.Reg.IsVector() {
			return fmt.Errorf("sim: %s: operand %s not modelled", in, o)
		}
		srcs[i].lanes = lanes(o.Reg)
		copy(srcs[i].v[:], l.Z[o.Reg.Index()][:srcs[i].lanes])
	}
	if dst.Kind != ir.OpndReg || !dst.Reg.IsVector() {
		return fmt.Errorf("sim: %s: destination %s not modelled", in, dst)
	}
	n := lanes(dst.Reg)
	res := compute(in.Op, srcs, imm, n)
	z := &l.Z[dst.Reg.Index()]
	copy(z[:n], res[:n])
	if n == lanesXMM {
		z[2], z[3] = 0, 0
	}
	return nil
}

// ExecList runs every instruction of a block.
func (l *Logical) ExecList(list *ir.List) error {
	for in := list.First(); in != nil; in = in.Next() {
		if err := l.Exec(in); err != nil {
			return err
		}
	}
	return nil
}

func tlsWord(o ir.Opnd) (int, int, error) {
	if o.Disp%8 != 0 || o.Disp < 0 || int(o.Disp)+o.Size > ir.TLSAreaSize {
		return 0, 0, fmt.Errorf("sim: spill operand %s out of range", o)
	}
	return int(o.Disp / 8), o.Size / 8, nil
}

func (m *Machine) physical(r regs.Reg) (*[lanesYMM]uint64, error) {
	if !r.IsVector() || r.Index() >= regs.NumPhysical || r.Class() == regs.ClassZMM {
		return nil, fmt.Errorf("sim: %s is not a physical register", r)
	}
	return &m.Phys[r.Index()], nil
}

func (m *Machine) read(o ir.Opnd) (source, error) {
	var s source
	switch o.Kind {
	case ir.OpndReg:
		p, err := m.physical(o.Reg)
		if err != nil {
			return s, err
		}
		s.lanes = lanes(o.Reg)
		copy(s.v[:], p[:s.lanes])
	case ir.OpndTLS:
		w, n, err := tlsWord(o)
		if err != nil {
			return s, err
		}
		s.lanes = n
		copy(s.v[:], m.TLS[w:w+n])
	default:
		return s, fmt.Errorf("sim: operand %s not modelled", o)
	}
	return s, nil
}

// Exec runs one instruction on the narrow target. Writing a 128-bit
// register zeroes its upper lanes.
func (m *Machine) Exec(in *ir.Instr) error {
	dst, srcOps, imm, err := split(in)
	if err != nil {
		return err
	}
	srcs := make([]source, len(srcOps))
	for i, o := range srcOps {
		if srcs[i], err = m.read(o); err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
	}
	switch dst.Kind {
	case ir.OpndTLS:
		w, n, err := tlsWord(dst)
		if err != nil {
			return err
		}
		res := compute(in.Op, srcs, imm, n)
		copy(m.TLS[w:w+n], res[:n])
	case ir.OpndReg:
		p, err := m.physical(dst.Reg)
		if err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		n := lanes(dst.Reg)
		res := compute(in.Op, srcs, imm, n)
		*p = [lanesYMM]uint64{}
		copy(p[:n], res[:n])
	default:
		return fmt.Errorf("sim: %s: destination not modelled", in)
	}
	return nil
}

// Run executes a chain.
func (m *Machine) Run(first *ir.Instr) error {
	for in := first; in != nil; in = in.Next() {
		if err := m.Exec(in); err != nil {
			return err
		}
	}
	return nil
}

// Seed fills every register with distinct values derived from seed.
func (l *Logical) Seed(seed uint64) {
	x := seed | 1
	for k := range l.Z {
		for i := range l.Z[k] {
			x ^= x << 13
			x ^= x >> 7
			x ^= x << 17
			l.Z[k][i] = x
		}
	}
}

// Lower places the source state where the rewriter expects it: mid
// registers below 16 in the physical file, the others in their spill slot,
// every upper half in the wide area. Everything else is filled with junk.
func Lower(l *Logical, junk uint64) *Machine {
	m := &Machine{}
	for i := range m.TLS {
		m.TLS[i] = junk ^ uint64(i)
	}
	for k, z := range l.Z {
		if k < regs.NumPhysical {
			copy(m.Phys[k][:], z[:lanesYMM])
		} else {
			w := int(ir.SlotOffset(k) / 8)
			copy(m.TLS[w:w+lanesYMM], z[:lanesYMM])
		}
		w := int(ir.WideOffset(k, 1) / 8)
		copy(m.TLS[w:w+lanesYMM], z[lanesYMM:])
	}
	return m
}

// Lift is the inverse of Lower.
func (m *Machine) Lift() *Logical {
	l := &Logical{}
	for k := range l.Z {
		if k < regs.NumPhysical {
			copy(l.Z[k][:lanesYMM], m.Phys[k][:])
		} else {
			w := int(ir.SlotOffset(k) / 8)
			copy(l.Z[k][:lanesYMM], m.TLS[w:w+lanesYMM])
		}
		w := int(ir.WideOffset(k, 1) / 8)
		copy(l.Z[k][lanesYMM:], m.TLS[w:w+lanesYMM])
	}
	return l
}

// Diff lists the registers whose values differ.
func Diff(want, got *Logical) []string {
	var out []string
	for k := range want.Z {
		if want.Z[k] != got.Z[k] {
			out = append(out, fmt.Sprintf("zmm%d: want %x got %x", k, want.Z[k], got.Z[k]))
		}
	}
	return out
}
