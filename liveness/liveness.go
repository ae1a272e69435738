// Package liveness tracks which mask and vector registers a stream of
// instructions has touched.
package liveness

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
)

// Bitmaps holds one bit per mask register and one per vector register
// index; xmm, ymm and zmm of the same index share a bit.
type Bitmaps struct {
	Mask   uint8
	Vector uint32
}

func (b Bitmaps) MaskLive(i int) bool   { return i >= 0 && i < regs.NumMask && b.Mask&(1<<uint(i)) != 0 }
func (b Bitmaps) VectorLive(i int) bool { return i >= 0 && i < regs.NumVector && b.Vector&(1<<uint(i)) != 0 }

func (b Bitmaps) String() string {
	return fmt.Sprintf("k:%08b v:%032b (%d mask, %d vector)", b.Mask, b.Vector,
		bits.OnesCount8(b.Mask), bits.OnesCount32(b.Vector))
}

// Analyzer accumulates Bitmaps. It is not safe for concurrent use.
//
// Deprecated: the bitmaps are approximate (a register is live from its
// first mention until Reset) and are kept for diagnostics only. Nothing in
// the rewriter consults them; use Footprint for an exact per-block scan.
type Analyzer struct {
	live Bitmaps
	seen int
}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

func (a *Analyzer) Bitmaps() Bitmaps { return a.live }

func (a *Analyzer) Reset() {
	a.live = Bitmaps{}
	a.seen = 0
}

func (a *Analyzer) mark(r regs.Reg) {
	switch {
	case r.IsMask():
		a.live.Mask |= 1 << uint(r.Index())
	case r.IsVector():
		a.live.Vector |= 1 << uint(r.Index())
	}
}

// Examine marks every register operand of in, including a memory index
// register of vector class and the opmask.
func (a *Analyzer) Examine(in *ir.Instr) {
	for _, r := range in.Regs() {
		a.mark(r)
	}
	a.seen++
}

// ExamineList runs Examine over a block.
func (a *Analyzer) ExamineList(list *ir.List) Bitmaps {
	for in := list.First(); in != nil; in = in.Next() {
		a.Examine(in)
	}
	log.Trace(log.LivenessMonitoring, "examined", "instructions", a.seen, "live", a.live)
	return a.live
}

// Footprint returns the physical vector registers (index below 16) that
// any instruction of list names, one bit per index.
func Footprint(list *ir.List) uint16 {
	var fp uint16
	for in := list.First(); in != nil; in = in.Next() {
		for _, r := range in.Regs() {
			if r.IsVector() && r.Index() < regs.NumPhysical {
				fp |= 1 << uint(r.Index())
			}
		}
	}
	return fp
}

// FootprintString renders a footprint as a register list, e.g. "ymm0 ymm3".
func FootprintString(fp uint16) string {
	var out []string
	for i := 0; i < regs.NumPhysical; i++ {
		if fp&(1<<uint(i)) != 0 {
			out = append(out, regs.YMM(i).String())
		}
	}
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, " ")
}
