package regs

import (
	"fmt"

	"github.com/colorfulnotion/avx2rw/rwerrors"
)

// SpillSlotBase is the first physical vector register reserved as scratch.
const SpillSlotBase = 10

// NumSpillSlots is the number of scratch registers in each vector pool.
const NumSpillSlots = NumPhysical - SpillSlotBase

// SpillPool is the ordered set of scratch registers of one vector class.
type SpillPool struct {
	class Class
	slots [NumSpillSlots]Reg
}

func newSpillPool(c Class) *SpillPool {
	p := &SpillPool{class: c}
	for i := range p.slots {
		p.slots[i] = MustFromIndex(c, SpillSlotBase+i)
	}
	return p
}

var (
	XMMSpill = newSpillPool(ClassXMM)
	YMMSpill = newSpillPool(ClassYMM)
	ZMMSpill = newSpillPool(ClassZMM)
)

// SpillFor returns the pool of a vector class, nil for anything else.
func SpillFor(c Class) *SpillPool {
	switch c {
	case ClassXMM:
		return XMMSpill
	case ClassYMM:
		return YMMSpill
	case ClassZMM:
		return ZMMSpill
	}
	return nil
}

func (p *SpillPool) Class() Class { return p.class }
func (p *SpillPool) Len() int     { return len(p.slots) }

// Slot returns the i-th scratch register in pool order.
func (p *SpillPool) Slot(i int) Reg { return p.slots[i] }

// Contains reports whether r is a scratch register of this pool at any width.
func (p *SpillPool) Contains(r Reg) bool {
	if !r.IsVector() {
		return false
	}
	idx := r.Index()
	return idx >= SpillSlotBase && idx < NumPhysical
}

// avoided compares physical register numbers, so avoiding ymm10 also
// avoids xmm10. RegNull and non-vector avoids never match.
func avoided(slot Reg, avoids []Reg) bool {
	for _, a := range avoids {
		if a.IsVector() && a.Index() == slot.Index() {
			return true
		}
	}
	return false
}

// PickOne returns the first scratch register that is not avoid.
func (p *SpillPool) PickOne(avoid Reg) (Reg, error) {
	return p.PickAvoiding(avoid)
}

// PickAvoiding returns the first scratch register not in avoids.
func (p *SpillPool) PickAvoiding(avoids ...Reg) (Reg, error) {
	for _, s := range p.slots {
		if !avoided(s, avoids) {
			return s, nil
		}
	}
	return RegNull, fmt.Errorf("%s pool, %d avoided: %w", p.class, len(avoids), rwerrors.ErrExhaustedSlots)
}

// PickPair returns the first two scratch registers not in avoids.
func (p *SpillPool) PickPair(avoids ...Reg) (Reg, Reg, error) {
	first, err := p.PickAvoiding(avoids...)
	if err != nil {
		return RegNull, RegNull, err
	}
	second, err := p.PickAvoiding(append(avoids[:len(avoids):len(avoids)], first)...)
	if err != nil {
		return RegNull, RegNull, err
	}
	return first, second, nil
}

// gprSlots are the spillable general purpose registers; rsp and rbp are
// never handed out.
var gprSlots = [...]int{0, 1, 2, 3, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

// NumGPRSpillSlots is the size of the GPR pool.
const NumGPRSpillSlots = len(gprSlots)

// GPRSlot returns the i-th 64-bit register of the GPR pool.
func GPRSlot(i int) Reg {
	return baseGPR64 + Reg(gprSlots[i])
}

func avoidMask(avoids []Reg) uint16 {
	var mask uint16
	for _, a := range avoids {
		if n := a.gprNumber(); n >= 0 {
			mask |= 1 << uint(n)
		}
	}
	return mask
}

// PickN returns up to n 64-bit registers from the GPR pool whose physical
// register is not used by any avoid (any width view counts). When fewer
// than n are available the found registers are returned together with
// ErrExhaustedSlots.
func PickN(n int, avoids ...Reg) ([]Reg, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > NumGPRSpillSlots {
		return nil, fmt.Errorf("%d gprs requested, pool has %d: %w", n, NumGPRSpillSlots, rwerrors.ErrExhaustedSlots)
	}
	mask := avoidMask(avoids)
	out := make([]Reg, 0, n)
	for i := range gprSlots {
		if mask&(1<<uint(gprSlots[i])) != 0 {
			continue
		}
		out = append(out, GPRSlot(i))
		if len(out) == n {
			return out, nil
		}
	}
	return out, fmt.Errorf("%d of %d gprs available: %w", len(out), n, rwerrors.ErrExhaustedSlots)
}

// PickOneGPR returns a single 64-bit register from the GPR pool.
func PickOneGPR(avoids ...Reg) (Reg, error) {
	r, err := PickN(1, avoids...)
	if err != nil {
		return RegNull, err
	}
	return r[0], nil
}
