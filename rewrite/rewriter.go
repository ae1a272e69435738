package rewrite

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/avx2rw/ir"
	"github.com/colorfulnotion/avx2rw/liveness"
	"github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/remap"
	"github.com/colorfulnotion/avx2rw/rwerrors"
	"github.com/xlab/treeprint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options configure a Rewriter.
type Options struct {
	Strategy Strategy
	// Strict turns an unsupported instruction into a block error instead of
	// leaving it in place.
	Strict bool
	// Reserved physical vector registers are marked used at the start of
	// every block and never handed out by the remapping allocator.
	Reserved []regs.Reg
}

// Rewriter drives the dispatch table over instruction blocks. It owns the
// allocation session and must not be shared between goroutines.
type Rewriter struct {
	opts    Options
	table   *Table
	session *remap.Session
	engine  *Engine
	stats   *Stats
	events  *log.RecordWriter
}

// New builds a Rewriter. stats and events may be nil.
func New(opts Options, stats *Stats, events *log.RecordWriter) *Rewriter {
	s := remap.NewSession()
	return &Rewriter{
		opts:    opts,
		table:   NewTable(),
		session: s,
		engine:  NewEngine(s),
		stats:   stats,
		events:  events,
	}
}

func (r *Rewriter) Table() *Table           { return r.table }
func (r *Rewriter) Session() *remap.Session { return r.session }
func (r *Rewriter) Options() Options        { return r.opts }
func (r *Rewriter) SetStrategy(st Strategy) { r.opts.Strategy = st }
func (r *Rewriter) SetStrict(on bool)       { r.opts.Strict = on }

// Reset starts a new allocation session.
func (r *Rewriter) Reset() error {
	r.session.Reset()
	for _, reg := range r.opts.Reserved {
		if !reg.IsVector() {
			return fmt.Errorf("reserved %s: %w", reg, rwerrors.ErrInvalidOperand)
		}
		if err := r.session.MarkUsed(reg.Index()); err != nil {
			return fmt.Errorf("reserved %s: %w", reg, err)
		}
	}
	return nil
}

// Rewrite dispatches one instruction of list. A nil First in the result
// means the instruction was left as is; otherwise it was removed and the
// returned chain must be inserted by the caller. An instruction left as is
// that still names a zmm, mask or extended register is ErrNotSupported.
func (r *Rewriter) Rewrite(list *ir.List, in *ir.Instr) (Chain, error) {
	h := r.table.Dispatch(in.Op)
	op, addr := in.Op.String(), in.Addr
	c, err := h.Rewrite(&Context{Engine: r.engine, List: list, Strategy: r.opts.Strategy}, in)
	if err == nil && c.First == nil {
		if reg := missingOnTarget(in); reg != regs.RegNull {
			err = fmt.Errorf("%s: %s left in place by %q: %w", in, reg, h.Name(), rwerrors.ErrNotSupported)
		}
	}

	outcome := "rewritten"
	switch {
	case err != nil && errors.Is(err, rwerrors.ErrNotSupported):
		outcome = "unsupported"
	case err != nil:
		outcome = "error"
	case c.First == nil:
		outcome = "unchanged"
	}
	r.stats.observe(op, outcome, c)
	rec := log.RewriteRecord{Addr: addr, Opcode: op}
	if err != nil {
		rec.Error = rwerrors.GetErrorName(err)
	} else if c.First != nil {
		rec.Case, rec.Strategy, rec.ChainLen = c.Label(), c.Strategy.String(), c.Len()
	}
	if c.First != nil || err != nil {
		if werr := r.events.Emit(rec); werr != nil {
			log.Warn(log.RewriteMonitoring, "event write failed", "err", werr)
		}
	}
	return c, err
}

// missingOnTarget returns the first register of in that the 16-register
// narrow target does not have, or RegNull.
func missingOnTarget(in *ir.Instr) regs.Reg {
	for _, reg := range in.Regs() {
		if reg.IsMask() || reg.Class() == regs.ClassZMM || reg.IsExtended() {
			return reg
		}
	}
	return regs.RegNull
}

// Report summarises one block rewrite.
type Report struct {
	Instructions int
	Rewritten    int
	Unchanged    int
	Unsupported  int
	Unknown      int
	Footprint    uint16 // physical vector registers the block names
	Cases        map[string]int
	Skipped      []string
}

// Tree renders the report for the CLI.
func (rep Report) Tree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("block: %d instructions, %d rewritten, %d unchanged, %d unsupported, %d unknown",
		rep.Instructions, rep.Rewritten, rep.Unchanged, rep.Unsupported, rep.Unknown))
	tree.AddNode("footprint: " + liveness.FootprintString(rep.Footprint))
	if len(rep.Cases) > 0 {
		cases := tree.AddBranch("cases")
		for _, label := range sortedKeys(rep.Cases) {
			cases.AddNode(fmt.Sprintf("%s: %d", label, rep.Cases[label]))
		}
	}
	if len(rep.Skipped) > 0 {
		skipped := tree.AddBranch("unsupported")
		for _, s := range rep.Skipped {
			skipped.AddNode(s)
		}
	}
	return tree
}

// RewriteBlock rewrites every wide instruction of list in place. Allocation
// failures abort the block; unsupported instructions abort it only in
// strict mode.
func (r *Rewriter) RewriteBlock(ctx context.Context, list *ir.List) (Report, error) {
	rep := Report{Instructions: list.Len(), Footprint: liveness.Footprint(list), Cases: map[string]int{}}
	var start uint64
	if first := list.First(); first != nil {
		start = first.Addr
	}
	_, span := otel.Tracer("").Start(ctx, "avx2rw.rewrite.RewriteBlock", trace.WithAttributes(
		attribute.Int64("block.addr", int64(start)),
		attribute.Int("block.instructions", list.Len()),
		attribute.String("strategy", r.opts.Strategy.String()),
	))
	defer span.End()

	if err := r.Reset(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return rep, err
	}
	r.stats.block()

	for in := list.First(); in != nil; {
		next := in.Next()
		if !in.Op.IsWide() {
			if in.Op == ir.OpWideUnknown {
				rep.Unknown++
			}
			in = next
			continue
		}
		addr, text := in.Addr, in.String()
		c, err := r.Rewrite(list, in)
		switch {
		case err == nil && c.First == nil:
			rep.Unchanged++
		case err == nil:
			list.SpliceBefore(next, c.First)
			rep.Rewritten++
			rep.Cases[c.Label()]++
		case errors.Is(err, rwerrors.ErrNotSupported) && !r.opts.Strict:
			rep.Unsupported++
			rep.Skipped = append(rep.Skipped, fmt.Sprintf("%#x %s", addr, text))
			log.Debug(log.RewriteMonitoring, "left unsupported instruction", "addr", fmt.Sprintf("%#x", addr), "instr", text, "err", err)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, rwerrors.GetErrorName(err))
			return rep, fmt.Errorf("rewrite %#x %s: %w", addr, text, err)
		}
		in = next
	}
	span.SetAttributes(
		attribute.Int("block.rewritten", rep.Rewritten),
		attribute.Int("block.unsupported", rep.Unsupported),
	)
	return rep, nil
}
