package ir

import (
	"fmt"

	"github.com/colorfulnotion/avx2rw/regs"
)

// Spill area layout, relative to the thread's TLS base:
//
//	[0, 2048)     32 narrow slots of 64 bytes; slot i < 16 saves physical
//	              register i while it is scratch, slot i >= 16 holds the
//	              value of extended register i
//	[2048, 4096)  32 wide slots of 64 bytes, the value of zmm i
const (
	TLSSlotSize  = 64
	NumTLSSlots  = regs.NumVector
	WideAreaBase = NumTLSSlots * TLSSlotSize
	TLSAreaSize  = WideAreaBase + NumTLSSlots*TLSSlotSize

	// HalfSize is the width of one half of a wide register.
	HalfSize = 32
)

// SlotOffset is the byte offset of narrow slot i.
func SlotOffset(slot int) int64 {
	return int64(slot * TLSSlotSize)
}

// WideOffset is the byte offset of the lower (half 0) or upper (half 1)
// 32 bytes of wide slot i.
func WideOffset(slot, half int) int64 {
	return int64(WideAreaBase + slot*TLSSlotSize + half*HalfSize)
}

// view returns the register of reg's physical number matching size bytes.
func view(reg regs.Reg, size int) regs.Reg {
	var r regs.Reg
	var err error
	switch size {
	case 16:
		r, err = reg.ToXMM()
	case 32:
		r, err = reg.ToYMM()
	default:
		err = fmt.Errorf("size %d", size)
	}
	if err != nil {
		panic(fmt.Sprintf("ir: no %d byte view of %s: %v", size, reg, err))
	}
	return r
}

func move(dst, src Opnd) *Instr {
	return NewMeta(OpVmovdqu, []Opnd{dst}, []Opnd{src})
}

// SaveToTLS stores size bytes of reg into narrow slot.
func SaveToTLS(reg regs.Reg, slot int, size int) *Instr {
	return move(TLSOpnd(SlotOffset(slot), size), RegOpnd(view(reg, size)))
}

// RestoreFromTLS loads size bytes of narrow slot into reg.
func RestoreFromTLS(reg regs.Reg, slot int, size int) *Instr {
	return move(RegOpnd(view(reg, size)), TLSOpnd(SlotOffset(slot), size))
}

// SaveToWide stores the 32 bytes of reg into one half of wide slot.
func SaveToWide(reg regs.Reg, slot, half int) *Instr {
	return move(TLSOpnd(WideOffset(slot, half), HalfSize), RegOpnd(view(reg, HalfSize)))
}

// RestoreFromWide loads one half of wide slot into reg.
func RestoreFromWide(reg regs.Reg, slot, half int) *Instr {
	return move(RegOpnd(view(reg, HalfSize)), TLSOpnd(WideOffset(slot, half), HalfSize))
}
