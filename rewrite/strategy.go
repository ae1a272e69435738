package rewrite

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/avx2rw/regs"
)

// Strategy selects how the engine picks scratch registers.
type Strategy uint8

const (
	// StrategyAuto is StrategyFixed unless a physical operand is one of the
	// first two spill slots, then StrategyDynamic.
	StrategyAuto Strategy = iota
	// StrategyFixed always uses spill slots 0 and 1.
	StrategyFixed
	// StrategyDynamic picks the first spill slots not used by an operand.
	StrategyDynamic
	// StrategyRemap picks scratch registers with the remapping allocator:
	// register 31-index when free, else the next free one below it.
	StrategyRemap
)

var strategyNames = []string{"auto", "fixed", "dynamic", "remap"}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("strategy(%d)", s)
}

func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Strategy(i), nil
		}
	}
	return StrategyAuto, fmt.Errorf("unknown strategy %q", name)
}

// aliasesFixedSlots reports whether a physical operand shares a register
// with spill slot 0 or 1.
func aliasesFixedSlots(operands ...regs.Reg) bool {
	for _, r := range operands {
		if !r.IsVector() || r.IsExtended() {
			continue
		}
		if i := r.Index(); i == regs.SpillSlotBase || i == regs.SpillSlotBase+1 {
			return true
		}
	}
	return false
}

// resolve turns Auto into Fixed or Dynamic. A Fixed request is downgraded
// to Dynamic when an operand aliases the fixed slots.
func resolve(s Strategy, operands ...regs.Reg) Strategy {
	switch s {
	case StrategyAuto, StrategyFixed:
		if aliasesFixedSlots(operands...) {
			return StrategyDynamic
		}
		return StrategyFixed
	}
	return s
}
