package regs

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// X86Reg carries the encoding information of a general purpose register.
type X86Reg struct {
	Reg     Reg
	RegBits byte // 3-bit code for ModRM/SIB
	REXBit  byte // 1 if register index >= 8
}

// Encoding returns the ModRM bits of a GPR view. High byte registers encode
// as 4..7 without REX.
func (r Reg) Encoding() (X86Reg, bool) {
	n := r.gprNumber()
	if n < 0 {
		return X86Reg{}, false
	}
	if r.IsHighByte() {
		return X86Reg{Reg: r, RegBits: byte(n + 4)}, true
	}
	return X86Reg{Reg: r, RegBits: byte(n & 7), REXBit: byte(n >> 3)}, true
}

// low byte registers in hardware order; x86asm orders ah..bh before spb.
var asmByte = [NumByteGPR]x86asm.Reg{
	x86asm.AL, x86asm.CL, x86asm.DL, x86asm.BL,
	x86asm.SPB, x86asm.BPB, x86asm.SIB, x86asm.DIB,
	x86asm.R8B, x86asm.R9B, x86asm.R10B, x86asm.R11B,
	x86asm.R12B, x86asm.R13B, x86asm.R14B, x86asm.R15B,
	x86asm.AH, x86asm.CH, x86asm.DH, x86asm.BH,
}

// intelNames maps the lowercase x86asm spelling to the usual Intel one.
var intelNames = map[string]string{
	"spb": "spl", "bpb": "bpl", "sib": "sil", "dib": "dil",
	"r8l": "r8d", "r9l": "r9d", "r10l": "r10d", "r11l": "r11d",
	"r12l": "r12d", "r13l": "r13d", "r14l": "r14d", "r15l": "r15d",
}

func gprName(r Reg) string {
	s := strings.ToLower(r.Asm().String())
	if n, ok := intelNames[s]; ok {
		return n
	}
	return s
}

// Asm converts r to the x86asm register, or 0 when x86asm has no equivalent
// (masks, extended and 256/512-bit vector registers).
func (r Reg) Asm() x86asm.Reg {
	idx := r.Index()
	switch r.Class() {
	case ClassGPR64:
		return x86asm.RAX + x86asm.Reg(idx)
	case ClassGPR32:
		return x86asm.EAX + x86asm.Reg(idx)
	case ClassGPR16:
		return x86asm.AX + x86asm.Reg(idx)
	case ClassGPR8:
		return asmByte[idx]
	case ClassXMM:
		if idx < NumPhysical {
			return x86asm.X0 + x86asm.Reg(idx)
		}
	}
	return 0
}

// FromAsm converts a register decoded by x86asm. It returns RegNull for
// registers outside the modelled classes (segment, control, x87, mmx).
func FromAsm(a x86asm.Reg) Reg {
	switch {
	case a >= x86asm.RAX && a <= x86asm.R15:
		return baseGPR64 + Reg(a-x86asm.RAX)
	case a >= x86asm.EAX && a <= x86asm.R15L:
		return baseGPR32 + Reg(a-x86asm.EAX)
	case a >= x86asm.AX && a <= x86asm.R15W:
		return baseGPR16 + Reg(a-x86asm.AX)
	case a >= x86asm.AL && a <= x86asm.R15B:
		for i, b := range asmByte {
			if b == a {
				return baseGPR8 + Reg(i)
			}
		}
	case a >= x86asm.X0 && a <= x86asm.X15:
		return baseXMM + Reg(a-x86asm.X0)
	}
	return RegNull
}
