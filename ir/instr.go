package ir

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/avx2rw/regs"
)

// OpndKind is the kind of an instruction operand.
type OpndKind uint8

const (
	OpndNone OpndKind = iota
	OpndReg
	OpndImm
	OpndMem // application memory operand
	OpndTLS // slot of the per-thread spill area
)

// Opnd is an instruction operand.
type Opnd struct {
	Kind  OpndKind
	Reg   regs.Reg // OpndReg
	Imm   int64    // OpndImm
	Base  regs.Reg // OpndMem
	Index regs.Reg // OpndMem
	Scale uint8    // OpndMem
	Disp  int64    // OpndMem displacement, OpndTLS byte offset
	Size  int      // memory access size in bytes
}

func RegOpnd(r regs.Reg) Opnd { return Opnd{Kind: OpndReg, Reg: r} }
func ImmOpnd(v int64) Opnd    { return Opnd{Kind: OpndImm, Imm: v} }

// TLSOpnd addresses size bytes at offset of the spill area.
func TLSOpnd(offset int64, size int) Opnd {
	return Opnd{Kind: OpndTLS, Disp: offset, Size: size}
}

func (o Opnd) IsReg() bool { return o.Kind == OpndReg }

func sizePtr(size int) string {
	switch size {
	case 1:
		return "byte ptr "
	case 2:
		return "word ptr "
	case 4:
		return "dword ptr "
	case 8:
		return "qword ptr "
	case 16:
		return "xmmword ptr "
	case 32:
		return "ymmword ptr "
	case 64:
		return "zmmword ptr "
	}
	return ""
}

func (o Opnd) String() string {
	switch o.Kind {
	case OpndReg:
		return o.Reg.String()
	case OpndImm:
		return fmt.Sprintf("%#x", o.Imm)
	case OpndTLS:
		return fmt.Sprintf("%stls:[%#x]", sizePtr(o.Size), o.Disp)
	case OpndMem:
		var b strings.Builder
		b.WriteString(sizePtr(o.Size))
		b.WriteByte('[')
		sep := ""
		if o.Base != regs.RegNull {
			b.WriteString(o.Base.String())
			sep = "+"
		}
		if o.Index != regs.RegNull {
			fmt.Fprintf(&b, "%s%s*%d", sep, o.Index, o.Scale)
			sep = "+"
		}
		if o.Disp != 0 || sep == "" {
			if o.Disp < 0 {
				fmt.Fprintf(&b, "-%#x", -o.Disp)
			} else {
				fmt.Fprintf(&b, "%s%#x", sep, o.Disp)
			}
		}
		b.WriteByte(']')
		return b.String()
	}
	return "<none>"
}

// Instr is one instruction of a block. Instructions are linked into a List
// or, while a replacement is being built, into a free-standing chain.
type Instr struct {
	Op   Opcode
	Dsts []Opnd
	Srcs []Opnd

	Addr uint64 // application address, 0 for inserted instructions
	Len  int    // encoded length when decoded
	Meta bool   // inserted by the rewriter

	// EVEX decorations carried from the decoder
	Mask      regs.Reg // opmask register, RegNull for none
	Zeroing   bool
	Broadcast bool

	Text string // disassembly of OpLegacy instructions

	prev, next *Instr
	list       *List
}

// New builds an unlinked instruction.
func New(op Opcode, dsts []Opnd, srcs []Opnd) *Instr {
	return &Instr{Op: op, Dsts: dsts, Srcs: srcs}
}

// NewMeta builds an unlinked rewriter-inserted instruction.
func NewMeta(op Opcode, dsts []Opnd, srcs []Opnd) *Instr {
	in := New(op, dsts, srcs)
	in.Meta = true
	return in
}

func (in *Instr) Next() *Instr { return in.next }
func (in *Instr) Prev() *Instr { return in.prev }

// List returns the list in is linked into, nil for a chain.
func (in *Instr) List() *List { return in.list }

func (in *Instr) NumSrcs() int { return len(in.Srcs) }
func (in *Instr) NumDsts() int { return len(in.Dsts) }

func (in *Instr) Src(i int) Opnd {
	if i >= len(in.Srcs) {
		return Opnd{}
	}
	return in.Srcs[i]
}

func (in *Instr) Dst(i int) Opnd {
	if i >= len(in.Dsts) {
		return Opnd{}
	}
	return in.Dsts[i]
}

// Regs returns every register the instruction names, destinations first,
// including memory base/index registers and the opmask.
func (in *Instr) Regs() []regs.Reg {
	var out []regs.Reg
	add := func(o Opnd) {
		switch o.Kind {
		case OpndReg:
			out = append(out, o.Reg)
		case OpndMem:
			if o.Base != regs.RegNull {
				out = append(out, o.Base)
			}
			if o.Index != regs.RegNull {
				out = append(out, o.Index)
			}
		}
	}
	for _, o := range in.Dsts {
		add(o)
	}
	for _, o := range in.Srcs {
		add(o)
	}
	if in.Mask != regs.RegNull {
		out = append(out, in.Mask)
	}
	return out
}

// String renders the instruction in Intel syntax, destination first.
func (in *Instr) String() string {
	if in.Op == OpLegacy && in.Text != "" {
		return in.Text
	}
	var b strings.Builder
	b.WriteString(in.Op.String())
	ops := make([]string, 0, len(in.Dsts)+len(in.Srcs))
	for i, o := range in.Dsts {
		s := o.String()
		if i == 0 && in.Mask != regs.RegNull {
			s += "{" + in.Mask.String() + "}"
			if in.Zeroing {
				s += "{z}"
			}
		}
		ops = append(ops, s)
	}
	for _, o := range in.Srcs {
		ops = append(ops, o.String())
	}
	if len(ops) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(ops, ", "))
	}
	if in.Broadcast {
		b.WriteString(" {1toN}")
	}
	return b.String()
}

// Destroy releases an instruction removed from its list. The value must
// not be used afterwards.
func Destroy(in *Instr) {
	if in == nil {
		return
	}
	*in = Instr{Op: OpInvalid}
}

// Concat links instrs into a forward chain and returns its first element.
// nil entries are skipped.
func Concat(instrs ...*Instr) *Instr {
	var first, last *Instr
	for _, in := range instrs {
		if in == nil {
			continue
		}
		in.prev, in.next, in.list = last, nil, nil
		if last == nil {
			first = in
		} else {
			last.next = in
		}
		last = in
	}
	return first
}

// ChainSlice returns the instructions of a chain starting at first.
func ChainSlice(first *Instr) []*Instr {
	var out []*Instr
	for in := first; in != nil; in = in.next {
		out = append(out, in)
	}
	return out
}

// ChainLen counts the instructions of a chain.
func ChainLen(first *Instr) int {
	n := 0
	for in := first; in != nil; in = in.next {
		n++
	}
	return n
}
