package ir

import (
	"fmt"
	"strings"
)

// List is a mutable doubly-linked instruction block.
type List struct {
	first, last *Instr
	n           int
}

func NewList(instrs ...*Instr) *List {
	l := &List{}
	for _, in := range instrs {
		l.Append(in)
	}
	return l
}

func (l *List) First() *Instr { return l.first }
func (l *List) Last() *Instr  { return l.last }
func (l *List) Len() int      { return l.n }

// Append adds in at the end of the list.
func (l *List) Append(in *Instr) {
	l.InsertBefore(nil, in)
}

// InsertBefore links in before at; a nil at appends.
func (l *List) InsertBefore(at, in *Instr) {
	if at != nil && at.list != l {
		panic(fmt.Sprintf("ir: insert before %s which is not in this list", at))
	}
	in.list = l
	in.next = at
	if at == nil {
		in.prev = l.last
		if l.last != nil {
			l.last.next = in
		} else {
			l.first = in
		}
		l.last = in
	} else {
		in.prev = at.prev
		if at.prev != nil {
			at.prev.next = in
		} else {
			l.first = in
		}
		at.prev = in
	}
	l.n++
}

// InsertAfter links in after at; a nil at prepends.
func (l *List) InsertAfter(at, in *Instr) {
	if at == nil {
		l.InsertBefore(l.first, in)
		return
	}
	l.InsertBefore(at.next, in)
}

// Remove unlinks in from the list. It does not destroy it.
func (l *List) Remove(in *Instr) {
	if in.list != l {
		return
	}
	if in.prev != nil {
		in.prev.next = in.next
	} else {
		l.first = in.next
	}
	if in.next != nil {
		in.next.prev = in.prev
	} else {
		l.last = in.prev
	}
	in.prev, in.next, in.list = nil, nil, nil
	l.n--
}

// SpliceBefore moves the chain starting at first into the list before at
// (at the end when at is nil) and returns the last instruction inserted.
func (l *List) SpliceBefore(at, first *Instr) *Instr {
	var last *Instr
	for in := first; in != nil; {
		next := in.next
		l.InsertBefore(at, in)
		last = in
		in = next
	}
	return last
}

// Slice returns the instructions in list order.
func (l *List) Slice() []*Instr {
	out := make([]*Instr, 0, l.n)
	for in := l.first; in != nil; in = in.next {
		out = append(out, in)
	}
	return out
}

// Disassemble renders one instruction per line, application instructions
// with their address and inserted ones marked with '+'.
func (l *List) Disassemble() string {
	return DisassembleChain(l.first)
}

// DisassembleChain is Disassemble for a free-standing chain.
func DisassembleChain(first *Instr) string {
	var b strings.Builder
	for in := first; in != nil; in = in.next {
		if in.Meta {
			fmt.Fprintf(&b, "%12s  %s\n", "+", in)
		} else {
			fmt.Fprintf(&b, "%#12x  %s\n", in.Addr, in)
		}
	}
	return b.String()
}
