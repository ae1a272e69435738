// Package regs models the register space of the wide instruction set and
// the spill slot pools the rewriter draws scratch registers from.
package regs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/avx2rw/rwerrors"
)

// Class is the register class of a Reg.
type Class uint8

const (
	ClassNone Class = iota
	ClassGPR64
	ClassGPR32
	ClassGPR16
	ClassGPR8
	ClassMask
	ClassXMM
	ClassYMM
	ClassZMM
)

func (c Class) String() string {
	switch c {
	case ClassGPR64:
		return "gpr64"
	case ClassGPR32:
		return "gpr32"
	case ClassGPR16:
		return "gpr16"
	case ClassGPR8:
		return "gpr8"
	case ClassMask:
		return "mask"
	case ClassXMM:
		return "xmm"
	case ClassYMM:
		return "ymm"
	case ClassZMM:
		return "zmm"
	default:
		return "none"
	}
}

// IsVector reports whether c is one of the xmm/ymm/zmm classes.
func (c Class) IsVector() bool { return c >= ClassXMM && c <= ClassZMM }

// IsGPR reports whether c is a general purpose register view.
func (c Class) IsGPR() bool { return c >= ClassGPR64 && c <= ClassGPR8 }

// Size is the register width in bytes.
func (c Class) Size() int {
	switch c {
	case ClassGPR64, ClassMask:
		return 8
	case ClassGPR32:
		return 4
	case ClassGPR16:
		return 2
	case ClassGPR8:
		return 1
	case ClassXMM:
		return 16
	case ClassYMM:
		return 32
	case ClassZMM:
		return 64
	}
	return 0
}

// Reg is a dense register identifier. The class and index are recovered
// from the value's range in constant time.
type Reg uint16

const RegNull Reg = 0

const (
	NumVector   = 32 // logical xmm/ymm/zmm registers per class
	NumPhysical = 16 // physical vector registers on the narrow target
	NumGPR      = 16
	NumByteGPR  = 20 // 16 low bytes plus ah, ch, dh, bh
	NumMask     = 8
)

// class ranges; each class occupies [base, base+count).
const (
	baseGPR64 Reg = 1
	baseGPR32     = baseGPR64 + NumGPR
	baseGPR16     = baseGPR32 + NumGPR
	baseGPR8      = baseGPR16 + NumGPR
	baseMask      = baseGPR8 + NumByteGPR
	baseXMM       = baseMask + NumMask
	baseYMM       = baseXMM + NumVector
	baseZMM       = baseYMM + NumVector
	regEnd        = baseZMM + NumVector
)

var classRanges = [...]struct {
	class Class
	base  Reg
	count int
}{
	{ClassGPR64, baseGPR64, NumGPR},
	{ClassGPR32, baseGPR32, NumGPR},
	{ClassGPR16, baseGPR16, NumGPR},
	{ClassGPR8, baseGPR8, NumByteGPR},
	{ClassMask, baseMask, NumMask},
	{ClassXMM, baseXMM, NumVector},
	{ClassYMM, baseYMM, NumVector},
	{ClassZMM, baseZMM, NumVector},
}

// classOf is filled at init so Class() is a single table load.
var classOf [regEnd]Class

func init() {
	for _, cr := range classRanges {
		for i := 0; i < cr.count; i++ {
			classOf[cr.base+Reg(i)] = cr.class
		}
	}
}

func base(c Class) (Reg, int) {
	for _, cr := range classRanges {
		if cr.class == c {
			return cr.base, cr.count
		}
	}
	return RegNull, 0
}

// Class returns the register class, ClassNone for RegNull or out of range values.
func (r Reg) Class() Class {
	if r >= regEnd {
		return ClassNone
	}
	return classOf[r]
}

// Index is the register number within its class (xmm20 -> 20, rcx -> 1).
func (r Reg) Index() int {
	c := r.Class()
	if c == ClassNone {
		return -1
	}
	b, _ := base(c)
	return int(r - b)
}

// FromIndex builds the register of class c with the given index.
func FromIndex(c Class, idx int) (Reg, error) {
	b, n := base(c)
	if b == RegNull || idx < 0 || idx >= n {
		return RegNull, fmt.Errorf("%s%d: %w", c, idx, rwerrors.ErrIndexOutOfRange)
	}
	return b + Reg(idx), nil
}

// MustFromIndex is FromIndex for indices known to be valid.
func MustFromIndex(c Class, idx int) Reg {
	r, err := FromIndex(c, idx)
	if err != nil {
		panic(err)
	}
	return r
}

func XMM(i int) Reg { return MustFromIndex(ClassXMM, i) }
func YMM(i int) Reg { return MustFromIndex(ClassYMM, i) }
func ZMM(i int) Reg { return MustFromIndex(ClassZMM, i) }
func K(i int) Reg   { return MustFromIndex(ClassMask, i) }

func (r Reg) IsVector() bool { return r.Class().IsVector() }
func (r Reg) IsGPR() bool    { return r.Class().IsGPR() }
func (r Reg) IsMask() bool   { return r.Class() == ClassMask }

// IsExtended reports whether r is a vector register with index 16..31,
// which has no physical counterpart on the narrow target. Every zmm
// register is wide and handled separately; IsExtended only looks at the index.
func (r Reg) IsExtended() bool {
	return r.IsVector() && r.Index() >= NumPhysical
}

// IsPhysical reports whether r exists on the narrow target as is.
func (r Reg) IsPhysical() bool {
	switch c := r.Class(); {
	case c.IsGPR():
		return true
	case c == ClassXMM || c == ClassYMM:
		return r.Index() < NumPhysical
	}
	return false
}

func (r Reg) vectorTo(c Class) (Reg, error) {
	if !r.IsVector() {
		return RegNull, fmt.Errorf("%s to %s: %w", r, c, rwerrors.ErrInvalidConversion)
	}
	return FromIndex(c, r.Index())
}

// ToXMM returns the 128-bit view of a vector register.
func (r Reg) ToXMM() (Reg, error) { return r.vectorTo(ClassXMM) }

// ToYMM returns the 256-bit view of a vector register.
func (r Reg) ToYMM() (Reg, error) { return r.vectorTo(ClassYMM) }

// ToZMM returns the 512-bit view of a vector register.
func (r Reg) ToZMM() (Reg, error) { return r.vectorTo(ClassZMM) }

// gprNumber is the hardware number of a GPR view (0 rax .. 15 r15).
// The high byte registers ah..bh share the number of rax..rbx.
func (r Reg) gprNumber() int {
	if !r.IsGPR() {
		return -1
	}
	idx := r.Index()
	if r.Class() == ClassGPR8 && idx >= NumGPR {
		return idx - NumGPR
	}
	return idx
}

// IsHighByte reports whether r is one of ah, ch, dh, bh.
func (r Reg) IsHighByte() bool {
	return r.Class() == ClassGPR8 && r.Index() >= NumGPR
}

func (r Reg) gprTo(c Class) (Reg, error) {
	n := r.gprNumber()
	if n < 0 {
		return RegNull, fmt.Errorf("%s to %s: %w", r, c, rwerrors.ErrInvalidConversion)
	}
	return FromIndex(c, n)
}

func (r Reg) ToQword() (Reg, error) { return r.gprTo(ClassGPR64) }
func (r Reg) ToDword() (Reg, error) { return r.gprTo(ClassGPR32) }
func (r Reg) ToWord() (Reg, error)  { return r.gprTo(ClassGPR16) }

// ToByte returns the low byte view of a GPR (spl, sil, r8b included).
func (r Reg) ToByte() (Reg, error) { return r.gprTo(ClassGPR8) }

// ToLegacyByte returns the byte view encodable without a REX prefix. Only
// rax, rcx, rdx and rbx have one.
func (r Reg) ToLegacyByte() (Reg, error) {
	n := r.gprNumber()
	if n < 0 || n > 3 {
		return RegNull, fmt.Errorf("%s to legacy byte: %w", r, rwerrors.ErrInvalidConversion)
	}
	return FromIndex(ClassGPR8, n)
}

// SameGPR reports whether a and b are views of the same general purpose register.
func SameGPR(a, b Reg) bool {
	na, nb := a.gprNumber(), b.gprNumber()
	return na >= 0 && na == nb
}

func (r Reg) String() string {
	switch c := r.Class(); {
	case c == ClassNone:
		if r == RegNull {
			return "null"
		}
		return "reg(" + strconv.Itoa(int(r)) + ")"
	case c.IsGPR():
		return gprName(r)
	case c == ClassMask:
		return "k" + strconv.Itoa(r.Index())
	default:
		return c.String() + strconv.Itoa(r.Index())
	}
}

var byName map[string]Reg

func init() {
	byName = make(map[string]Reg, int(regEnd)+len(intelNames))
	for r := Reg(1); r < regEnd; r++ {
		byName[r.String()] = r
	}
	// accept the x86asm spellings too
	for asmName, name := range intelNames {
		byName[asmName] = byName[name]
	}
}

// Parse resolves a register name such as "ymm20", "k1", "r9d" or "al".
func Parse(name string) (Reg, error) {
	r, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return RegNull, fmt.Errorf("unknown register %q: %w", name, rwerrors.ErrInvalidOperand)
	}
	return r, nil
}
