// Package decode turns raw x86-64 code into instruction lists. Legacy
// encodings go through x86asm; VEX and EVEX prefixes, which x86asm does not
// know, are decoded here.
package decode

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"golang.org/x/arch/x86/x86asm"
)

// Encoding is the instruction format found at an address.
type Encoding uint8

const (
	EncLegacy Encoding = iota
	EncVEX
	EncEVEX
	EncInvalid
)

func (e Encoding) String() string {
	switch e {
	case EncLegacy:
		return "legacy"
	case EncVEX:
		return "vex"
	case EncEVEX:
		return "evex"
	}
	return "invalid"
}

// narrowNames are the VEX spellings of opcodes the table lists under
// their EVEX names.
var narrowNames = map[ir.Opcode]ir.Opcode{
	ir.OpVpandd:    ir.OpVpand,
	ir.OpVpandnd:   ir.OpVpandn,
	ir.OpVpord:     ir.OpVpor,
	ir.OpVpxord:    ir.OpVpxor,
	ir.OpVmovdqa32: ir.OpVmovdqa,
	ir.OpVmovdqu32: ir.OpVmovdqu,
}

// Decode reads one instruction at the start of code. Legacy and VEX
// instructions come back as ir.OpLegacy with their operands filled in;
// EVEX forms the table does not know become ir.OpWideUnknown. Bytes that
// do not decode yield a one-byte OpLegacy "db" with EncInvalid.
func Decode(code []byte, addr uint64) (*ir.Instr, Encoding, error) {
	if len(code) == 0 {
		return nil, EncInvalid, io.ErrUnexpectedEOF
	}
	switch code[0] {
	case 0x62:
		in, err := decodeVector(code, addr, true)
		return in, EncEVEX, err
	case 0xc4, 0xc5:
		in, err := decodeVector(code, addr, false)
		return in, EncVEX, err
	}
	return decodeLegacy(code, addr)
}

func decodeLegacy(code []byte, addr uint64) (*ir.Instr, Encoding, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		in := ir.New(ir.OpLegacy, nil, nil)
		in.Text = fmt.Sprintf("db 0x%02x", code[0])
		in.Addr, in.Len = addr, 1
		return in, EncInvalid, nil
	}
	in := ir.New(ir.OpLegacy, nil, nil)
	in.Addr, in.Len = addr, inst.Len
	in.Text = x86asm.IntelSyntax(inst, addr, nil)
	for i, a := range inst.Args {
		if a == nil {
			break
		}
		o, ok := fromAsmArg(a, inst.MemBytes)
		if !ok {
			continue
		}
		if i == 0 {
			in.Dsts = append(in.Dsts, o)
		} else {
			in.Srcs = append(in.Srcs, o)
		}
	}
	return in, EncLegacy, nil
}

func fromAsmArg(a x86asm.Arg, memBytes int) (ir.Opnd, bool) {
	switch a := a.(type) {
	case x86asm.Reg:
		if r := regs.FromAsm(a); r != regs.RegNull {
			return ir.RegOpnd(r), true
		}
	case x86asm.Mem:
		return ir.Opnd{
			Kind:  ir.OpndMem,
			Base:  regs.FromAsm(a.Base),
			Index: regs.FromAsm(a.Index),
			Scale: a.Scale,
			Disp:  a.Disp,
			Size:  memBytes,
		}, true
	case x86asm.Imm:
		return ir.ImmOpnd(int64(a)), true
	}
	return ir.Opnd{}, false
}

// vectorClass returns the register class for a width in bytes.
func vectorClass(width int) regs.Class {
	switch width {
	case 16:
		return regs.ClassXMM
	case 32:
		return regs.ClassYMM
	}
	return regs.ClassZMM
}

func decodeVector(code []byte, addr uint64, evex bool) (*ir.Instr, error) {
	var (
		p   prefix
		err error
	)
	if evex {
		p, err = parseEVEX(code)
	} else {
		p, err = parseVEX(code)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %#x: %w", addr, err)
	}
	if p.mmap < map0F || p.mmap > map0F3A {
		return nil, fmt.Errorf("decode %#x: opcode map %d: %w", addr, p.mmap, errBadMap)
	}
	n := p.size
	if len(code) <= n {
		return nil, fmt.Errorf("decode %#x: opcode: %w", addr, io.ErrUnexpectedEOF)
	}
	op := code[n]
	n++

	// vzeroupper and vzeroall have no modrm
	if !evex && p.mmap == map0F && op == 0x77 {
		in := ir.New(ir.OpLegacy, nil, nil)
		in.Text = "vzeroupper"
		if p.l == 1 {
			in.Text = "vzeroall"
		}
		in.Addr, in.Len = addr, n
		return in, nil
	}

	m, err := parseModRM(code[n:])
	if err != nil {
		return nil, fmt.Errorf("decode %#x: %w", addr, err)
	}
	n += m.size
	var imm *int64
	if hasImm8(p.mmap, op) {
		if len(code) <= n {
			return nil, fmt.Errorf("decode %#x: imm8: %w", addr, io.ErrUnexpectedEOF)
		}
		v := int64(code[n])
		imm = &v
		n++
	}

	e, known := lookup(p.mmap, p.pp, op, p.w, m.reg)
	in := ir.New(ir.OpWideUnknown, nil, nil)
	in.Addr, in.Len = addr, n
	if !known || (evex && p.bc && m.mod == 3) {
		// unknown opcode, or a register form with rounding control
		in.Text = fmt.Sprintf("%s.%s.%s.w%d %#02x", boolToEnc(evex), mapName(p.mmap), ppName(p.pp), b2i(p.w), op)
		if !evex {
			in.Op = ir.OpLegacy
		}
		log.Trace(log.DecodeMonitoring, "unknown vector form", "addr", fmt.Sprintf("%#x", addr), "form", in.Text)
		return in, nil
	}
	fillOperands(in, p, m, e, imm)
	in.Op = e.op
	if evex {
		if p.aaa != 0 {
			in.Mask = regs.K(int(p.aaa))
			in.Zeroing = p.z
		}
		in.Broadcast = p.bc
		return in, nil
	}
	if nn, ok := narrowNames[e.op]; ok {
		in.Op = nn
	}
	in.Text = in.String()
	in.Op = ir.OpLegacy
	return in, nil
}

var errBadMap = errors.New("unsupported opcode map")

func boolToEnc(evex bool) Encoding {
	if evex {
		return EncEVEX
	}
	return EncVEX
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mapName(m uint8) string {
	return [...]string{"", "0f", "0f38", "0f3a"}[m]
}

func ppName(pp uint8) string {
	return [...]string{"np", "66", "f3", "f2"}[pp]
}

func fillOperands(in *ir.Instr, p prefix, m modrm, e entry, imm *int64) {
	vl := 16 << p.l
	if e.scalar {
		vl = 16
	}
	vclass := vectorClass(vl)
	rmWidth := vl
	switch e.rmWidth {
	case widthVL:
	case widthHalf:
		rmWidth = vl / 2
	default:
		rmWidth = e.rmWidth
	}

	elem := 4
	if p.w {
		elem = 8
	}

	vec := func(class regs.Class, idx uint8) ir.Opnd {
		return ir.RegOpnd(regs.MustFromIndex(class, int(idx&0x1f)))
	}
	regOp := func() ir.Opnd { return vec(vclass, m.reg|p.r) }
	vvvvOp := func() ir.Opnd { return vec(vclass, p.vvvv) }
	rmOp := func(width int) ir.Opnd {
		if m.mod == 3 {
			idx := m.rm | p.b
			if p.evex {
				idx |= p.x << 1
			}
			return vec(vectorClass(width), idx)
		}
		o := ir.Opnd{Kind: ir.OpndMem, Size: width, Disp: m.disp}
		if !m.noBase && !m.ripRel {
			o.Base = regs.MustFromIndex(regs.ClassGPR64, int(m.base|p.b))
		}
		if m.sib && (m.index != 4 || p.x != 0) {
			o.Index = regs.MustFromIndex(regs.ClassGPR64, int(m.index|p.x))
			o.Scale = m.scale
		}
		if p.evex && p.bc {
			o.Size = elem
		}
		// compressed disp8 scales by the memory operand size
		if p.evex && m.mod == 1 {
			o.Disp *= int64(o.Size)
		}
		return o
	}

	switch e.form {
	case formRVM:
		in.Dsts = []ir.Opnd{regOp()}
		in.Srcs = []ir.Opnd{vvvvOp(), rmOp(rmWidth)}
	case formRM:
		in.Dsts = []ir.Opnd{regOp()}
		in.Srcs = []ir.Opnd{rmOp(rmWidth)}
	case formMR:
		in.Dsts = []ir.Opnd{rmOp(rmWidth)}
		in.Srcs = []ir.Opnd{vec(vectorClass(vl), m.reg|p.r)}
	case formVMI:
		in.Dsts = []ir.Opnd{vvvvOp()}
		in.Srcs = []ir.Opnd{rmOp(vl)}
	case formKRVM:
		in.Dsts = []ir.Opnd{ir.RegOpnd(regs.K(int(m.reg)))}
		in.Srcs = []ir.Opnd{vvvvOp(), rmOp(vl)}
	}
	if imm != nil {
		in.Srcs = append(in.Srcs, ir.ImmOpnd(*imm))
	}
}

// Block decodes code starting at addr into a list. Undecodable bytes are
// kept as "db" entries; a vector prefix cut off by the end of code stops
// decoding with an error and the instructions read so far.
func Block(code []byte, addr uint64) (*ir.List, Census, error) {
	list := ir.NewList()
	var c Census
	for off := 0; off < len(code); {
		in, enc, err := Decode(code[off:], addr+uint64(off))
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return list, c, err
			}
			// a malformed vector prefix: skip the escape byte
			in = ir.New(ir.OpLegacy, nil, nil)
			in.Text = fmt.Sprintf("db 0x%02x", code[off])
			in.Addr, in.Len = addr+uint64(off), 1
			enc = EncInvalid
			log.Debug(log.DecodeMonitoring, "bad vector prefix", "addr", fmt.Sprintf("%#x", in.Addr), "err", err)
		}
		c.add(in, enc)
		list.Append(in)
		off += in.Len
	}
	return list, c, nil
}

// Listing renders a block the way objdump does: address, bytes, text.
func Listing(list *ir.List, code []byte, base uint64) string {
	var sb strings.Builder
	for in := list.First(); in != nil; in = in.Next() {
		off := int(in.Addr - base)
		var hexBytes []string
		for i := 0; i < in.Len && off+i < len(code); i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[off+i]))
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-30s %s\n", in.Addr, strings.Join(hexBytes, " "), in))
	}
	return sb.String()
}
