package decode

import (
	"fmt"
	"io"
)

// Opcode maps selected by the VEX/EVEX mmmmm field.
const (
	map0F   = 1
	map0F38 = 2
	map0F3A = 3
)

// Mandatory prefix implied by the pp field.
const (
	ppNone = 0
	pp66   = 1
	ppF3   = 2
	ppF2   = 3
)

// prefix is the decoded register-extension and control fields of a VEX or
// EVEX prefix, with inverted fields already flipped.
type prefix struct {
	evex bool
	mmap uint8
	pp   uint8
	w    bool
	r    uint8 // modrm.reg bits 3 and 4
	x    uint8 // sib.index bit 3; rm register bit 4 for evex
	b    uint8 // modrm.rm / base bit 3
	vvvv uint8 // including V' as bit 4
	l    uint8 // vector length: 0 128, 1 256, 2 512
	aaa  uint8
	z    bool
	bc   bool // embedded broadcast, or rounding control on register forms
	size int  // prefix bytes including the escape byte
}

func bit(b byte, n uint) uint8 { return uint8(b>>n) & 1 }

// parseEVEX reads 62 P0 P1 P2.
func parseEVEX(code []byte) (prefix, error) {
	if len(code) < 4 {
		return prefix{}, fmt.Errorf("evex prefix: %w", io.ErrUnexpectedEOF)
	}
	p0, p1, p2 := code[1], code[2], code[3]
	if p0&0x08 != 0 || p1&0x04 == 0 {
		return prefix{}, fmt.Errorf("evex prefix %02x %02x %02x: reserved bits", p0, p1, p2)
	}
	p := prefix{
		evex: true,
		mmap: p0 & 0x07,
		r:    (bit(p0, 7) ^ 1) << 3,
		x:    (bit(p0, 6) ^ 1) << 3,
		b:    (bit(p0, 5) ^ 1) << 3,
		w:    bit(p1, 7) == 1,
		vvvv: (^(p1 >> 3)) & 0x0f,
		pp:   p1 & 0x03,
		z:    bit(p2, 7) == 1,
		l:    (p2 >> 5) & 0x03,
		bc:   bit(p2, 4) == 1,
		aaa:  p2 & 0x07,
		size: 4,
	}
	p.r |= (bit(p0, 4) ^ 1) << 4
	p.vvvv |= (bit(p2, 3) ^ 1) << 4
	return p, nil
}

// parseVEX reads the two-byte (C5) or three-byte (C4) form.
func parseVEX(code []byte) (prefix, error) {
	switch code[0] {
	case 0xc5:
		if len(code) < 2 {
			return prefix{}, fmt.Errorf("vex2 prefix: %w", io.ErrUnexpectedEOF)
		}
		b1 := code[1]
		return prefix{
			mmap: map0F,
			r:    (bit(b1, 7) ^ 1) << 3,
			vvvv: (^(b1 >> 3)) & 0x0f,
			l:    bit(b1, 2),
			pp:   b1 & 0x03,
			size: 2,
		}, nil
	case 0xc4:
		if len(code) < 3 {
			return prefix{}, fmt.Errorf("vex3 prefix: %w", io.ErrUnexpectedEOF)
		}
		b1, b2 := code[1], code[2]
		return prefix{
			mmap: b1 & 0x1f,
			r:    (bit(b1, 7) ^ 1) << 3,
			x:    (bit(b1, 6) ^ 1) << 3,
			b:    (bit(b1, 5) ^ 1) << 3,
			w:    bit(b2, 7) == 1,
			vvvv: (^(b2 >> 3)) & 0x0f,
			l:    bit(b2, 2),
			pp:   b2 & 0x03,
			size: 3,
		}, nil
	}
	return prefix{}, fmt.Errorf("not a vex escape: %#02x", code[0])
}

// modrm is the decoded ModRM/SIB/displacement of one instruction.
type modrm struct {
	mod, reg, rm uint8
	sib          bool
	scale        uint8
	index, base  uint8
	noBase       bool // disp32 without base register
	ripRel       bool
	disp         int64
	size         int // modrm, sib and displacement bytes
}

// parseModRM reads ModRM and what follows it up to the immediate. The
// displacement is left unscaled.
func parseModRM(code []byte) (modrm, error) {
	if len(code) < 1 {
		return modrm{}, fmt.Errorf("modrm: %w", io.ErrUnexpectedEOF)
	}
	m := modrm{mod: code[0] >> 6, reg: (code[0] >> 3) & 7, rm: code[0] & 7, size: 1}
	if m.mod == 3 {
		return m, nil
	}
	if m.rm == 4 {
		if len(code) < 2 {
			return modrm{}, fmt.Errorf("sib: %w", io.ErrUnexpectedEOF)
		}
		s := code[1]
		m.sib = true
		m.scale = 1 << (s >> 6)
		m.index = (s >> 3) & 7
		m.base = s & 7
		m.size++
		if m.mod == 0 && m.base == 5 {
			m.noBase = true
		}
	} else {
		m.base = m.rm
		if m.mod == 0 && m.rm == 5 {
			m.ripRel = true
		}
	}
	dispLen := 0
	switch {
	case m.mod == 1:
		dispLen = 1
	case m.mod == 2, m.noBase, m.ripRel:
		dispLen = 4
	}
	if len(code) < m.size+dispLen {
		return modrm{}, fmt.Errorf("displacement: %w", io.ErrUnexpectedEOF)
	}
	d := code[m.size : m.size+dispLen]
	switch dispLen {
	case 1:
		m.disp = int64(int8(d[0]))
	case 4:
		m.disp = int64(int32(uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24))
	}
	m.size += dispLen
	return m, nil
}

// hasImm8 reports whether an opcode of the given map carries an imm8.
func hasImm8(mmap, op uint8) bool {
	switch mmap {
	case map0F3A:
		return true
	case map0F:
		switch op {
		case 0x70, 0x71, 0x72, 0x73, 0xc2, 0xc4, 0xc5, 0xc6:
			return true
		}
	}
	return false
}
