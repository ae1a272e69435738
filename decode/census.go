package decode

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
)

// Census counts instructions by encoding, and EVEX instructions by opcode.
type Census struct {
	Total   int
	Legacy  int
	VEX     int
	EVEX    int
	Unknown int // EVEX forms without a table entry
	Invalid int
	Bytes   int
	ByOp    map[string]int
}

func (c *Census) add(in *ir.Instr, enc Encoding) {
	c.Total++
	c.Bytes += in.Len
	switch enc {
	case EncLegacy:
		c.Legacy++
	case EncVEX:
		c.VEX++
	case EncEVEX:
		c.EVEX++
		if in.Op == ir.OpWideUnknown {
			c.Unknown++
			return
		}
		if c.ByOp == nil {
			c.ByOp = map[string]int{}
		}
		c.ByOp[in.Op.String()]++
	default:
		c.Invalid++
	}
}

// Merge adds the counts of o.
func (c *Census) Merge(o Census) {
	c.Total += o.Total
	c.Legacy += o.Legacy
	c.VEX += o.VEX
	c.EVEX += o.EVEX
	c.Unknown += o.Unknown
	c.Invalid += o.Invalid
	c.Bytes += o.Bytes
	for k, v := range o.ByOp {
		if c.ByOp == nil {
			c.ByOp = map[string]int{}
		}
		c.ByOp[k] += v
	}
}

func (c Census) String() string {
	return fmt.Sprintf("%d instructions (%d bytes): %d legacy, %d vex, %d evex (%d unknown), %d invalid",
		c.Total, c.Bytes, c.Legacy, c.VEX, c.EVEX, c.Unknown, c.Invalid)
}

// Ops returns the EVEX mnemonics seen, most frequent first.
func (c Census) Ops() []string {
	ops := make([]string, 0, len(c.ByOp))
	for k := range c.ByOp {
		ops = append(ops, k)
	}
	slices.SortFunc(ops, func(a, b string) int {
		if d := c.ByOp[b] - c.ByOp[a]; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return ops
}

// Tree renders the census with the EVEX opcodes by descending count.
func (c Census) Tree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(c.String())
	if len(c.ByOp) == 0 {
		return tree
	}
	evex := tree.AddBranch("evex")
	for _, op := range c.Ops() {
		evex.AddNode(fmt.Sprintf("%-16s %d", op, c.ByOp[op]))
	}
	return tree
}
