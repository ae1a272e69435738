// Package remap holds the per-session register mapping state: which
// physical registers are taken, which wide register lives in which pair of
// mid registers, and which extended register was probed onto which
// physical register.
package remap

import (
	"fmt"
	"math/bits"

	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/rwerrors"
	"github.com/xlab/treeprint"
)

// Pair is the two mid registers holding the lower and upper halves of a
// wide register.
type Pair struct {
	Lower regs.Reg
	Upper regs.Reg
}

func (p Pair) IsEmpty() bool { return p.Lower == regs.RegNull }

func (p Pair) String() string {
	if p.IsEmpty() {
		return "unmapped"
	}
	return fmt.Sprintf("(%s, %s)", p.Lower, p.Upper)
}

// Session is the allocation state of one block rewrite. It is not safe for
// concurrent use; each rewriter owns one.
type Session struct {
	used     uint16
	wide     [regs.NumVector]Pair
	extended [regs.NumVector]regs.Reg
}

func NewSession() *Session {
	return &Session{}
}

// Reset clears the used bitmap and both mapping tables.
func (s *Session) Reset() {
	*s = Session{}
}

func checkPhysical(idx int) error {
	if idx < 0 || idx >= regs.NumPhysical {
		return fmt.Errorf("physical %d: %w", idx, rwerrors.ErrIndexOutOfRange)
	}
	return nil
}

func checkLogical(idx int) error {
	if idx < 0 || idx >= regs.NumVector {
		return fmt.Errorf("logical %d: %w", idx, rwerrors.ErrIndexOutOfRange)
	}
	return nil
}

// MarkUsed records that physical register idx holds a live value.
func (s *Session) MarkUsed(idx int) error {
	if err := checkPhysical(idx); err != nil {
		return err
	}
	s.used |= 1 << uint(idx)
	return nil
}

// MarkUnused clears physical register idx in the used bitmap.
func (s *Session) MarkUnused(idx int) error {
	if err := checkPhysical(idx); err != nil {
		return err
	}
	s.used &^= 1 << uint(idx)
	return nil
}

func (s *Session) IsUsed(idx int) bool {
	return idx >= 0 && idx < regs.NumPhysical && s.used&(1<<uint(idx)) != 0
}

// UsedBitmap returns bit i set for every used physical register i.
func (s *Session) UsedBitmap() uint16 { return s.used }

// SetUsedBitmap replaces the used bitmap, typically with a value saved
// from UsedBitmap before a single-instruction allocation.
func (s *Session) SetUsedBitmap(b uint16) { s.used = b }

// FreeCount is the number of physical registers not marked used.
func (s *Session) FreeCount() int {
	return regs.NumPhysical - bits.OnesCount16(s.used)
}

// RemapExtended assigns a physical register to an extended xmm/ymm
// register. The preferred target is 31-index; if that is taken the
// registers below it are probed in descending order. Only probed results
// are recorded in the extended table, the preferred one is implied.
// Non-extended registers are returned unchanged.
func (s *Session) RemapExtended(logical regs.Reg) (regs.Reg, error) {
	c := logical.Class()
	if c != regs.ClassXMM && c != regs.ClassYMM {
		return regs.RegNull, fmt.Errorf("remap %s: %w", logical, rwerrors.ErrInvalidOperand)
	}
	if !logical.IsExtended() {
		return logical, nil
	}
	idx := logical.Index()
	preferred := regs.NumVector - 1 - idx
	if !s.IsUsed(preferred) {
		s.used |= 1 << uint(preferred)
		log.Debug(log.AllocMonitoring, "remap extended", "logical", logical, "physical", preferred)
		return regs.FromIndex(c, preferred)
	}
	for p := preferred - 1; p >= 0; p-- {
		if s.IsUsed(p) {
			continue
		}
		s.used |= 1 << uint(p)
		phys, err := regs.FromIndex(c, p)
		if err != nil {
			return regs.RegNull, err
		}
		s.extended[idx] = phys
		log.Debug(log.AllocMonitoring, "remap extended probed", "logical", logical, "preferred", preferred, "physical", p)
		return phys, nil
	}
	return regs.RegNull, fmt.Errorf("remap %s, preferred %d: %w", logical, preferred, rwerrors.ErrNoFreeRegister)
}

// LookupExtended returns the probed physical register recorded for
// logical index idx.
func (s *Session) LookupExtended(idx int) (regs.Reg, bool) {
	if checkLogical(idx) != nil {
		return regs.RegNull, false
	}
	r := s.extended[idx]
	return r, r != regs.RegNull
}

// ReleaseExtended frees the physical register returned by RemapExtended
// for logical and forgets a probed mapping.
func (s *Session) ReleaseExtended(logical, phys regs.Reg) {
	if phys.IsVector() && phys.Index() < regs.NumPhysical {
		s.used &^= 1 << uint(phys.Index())
	}
	if idx := logical.Index(); logical.IsExtended() && s.extended[idx] == phys {
		s.extended[idx] = regs.RegNull
	}
}

// RemapWide assigns the first two free physical registers, in ascending
// order, to a wide register. A register that already has a pair keeps it.
func (s *Session) RemapWide(logical regs.Reg) (Pair, error) {
	if logical.Class() != regs.ClassZMM {
		return Pair{}, fmt.Errorf("remap wide %s: %w", logical, rwerrors.ErrInvalidOperand)
	}
	idx := logical.Index()
	if p := s.wide[idx]; !p.IsEmpty() {
		return p, nil
	}
	var found [2]int
	n := 0
	for i := 0; i < regs.NumPhysical && n < 2; i++ {
		if !s.IsUsed(i) {
			found[n] = i
			n++
		}
	}
	if n < 2 {
		return Pair{}, fmt.Errorf("remap wide %s, %d free: %w", logical, n, rwerrors.ErrNoFreePair)
	}
	s.used |= 1<<uint(found[0]) | 1<<uint(found[1])
	p := Pair{Lower: regs.YMM(found[0]), Upper: regs.YMM(found[1])}
	s.wide[idx] = p
	log.Debug(log.AllocMonitoring, "remap wide", "logical", logical, "pair", p)
	return p, nil
}

// LookupWidePair returns the pair recorded for wide index idx.
func (s *Session) LookupWidePair(idx int) (Pair, bool) {
	if checkLogical(idx) != nil {
		return Pair{}, false
	}
	p := s.wide[idx]
	return p, !p.IsEmpty()
}

// ReleaseWide frees the pair of wide index idx and drops the mapping.
func (s *Session) ReleaseWide(idx int) {
	p, ok := s.LookupWidePair(idx)
	if !ok {
		return
	}
	s.used &^= 1<<uint(p.Lower.Index()) | 1<<uint(p.Upper.Index())
	s.wide[idx] = Pair{}
}

// AddWidePair records a mapping directly. The used bitmap is not touched.
func (s *Session) AddWidePair(idx int, p Pair) error {
	if err := checkLogical(idx); err != nil {
		return err
	}
	if p.Lower.Class() != regs.ClassYMM || p.Upper.Class() != regs.ClassYMM ||
		!p.Lower.IsPhysical() || !p.Upper.IsPhysical() || p.Lower == p.Upper {
		return fmt.Errorf("pair %s for zmm%d: %w", p, idx, rwerrors.ErrInvalidOperand)
	}
	s.wide[idx] = p
	return nil
}

// WideMappingString renders one entry of the wide table.
func (s *Session) WideMappingString(idx int) string {
	p, _ := s.LookupWidePair(idx)
	return fmt.Sprintf("zmm%d -> %s", idx, p)
}

// Tree renders the used bitmap and both tables for debugging.
func (s *Session) Tree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("session used=%016b free=%d", s.used, s.FreeCount()))
	wide := tree.AddBranch("wide")
	for i := range s.wide {
		if !s.wide[i].IsEmpty() {
			wide.AddNode(s.WideMappingString(i))
		}
	}
	ext := tree.AddBranch("extended")
	for i, r := range s.extended {
		if r != regs.RegNull {
			ext.AddNode(fmt.Sprintf("%d -> %s", i, r))
		}
	}
	return tree
}
