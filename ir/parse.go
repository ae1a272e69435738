package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/avx2rw/regs"
	"github.com/colorfulnotion/avx2rw/rwerrors"
)

var ptrSizes = map[string]int{
	"byte": 1, "word": 2, "dword": 4, "qword": 8,
	"xmmword": 16, "ymmword": 32, "zmmword": 64,
}

// Parse reads one Intel-syntax instruction, destination first:
//
//	vpaddd zmm1{k1}{z}, zmm2, zmm3
//	vpslld ymm20, ymm3, 4
//	vmovdqu32 zmmword ptr [rax+rcx*4+0x40], zmm17
//
// A mnemonic not in the opcode table is an error.
func Parse(line string) (*Instr, error) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return nil, fmt.Errorf("empty instruction: %w", rwerrors.ErrInvalidOperand)
	}
	mnemonic, rest, _ := strings.Cut(line, " ")
	op, ok := ParseOpcode(mnemonic)
	if !ok {
		return nil, fmt.Errorf("unknown mnemonic %q: %w", mnemonic, rwerrors.ErrNotSupported)
	}
	in := New(op, nil, nil)
	rest = strings.TrimSpace(rest)
	if strings.HasSuffix(rest, "{1toN}") {
		in.Broadcast = true
		rest = strings.TrimSpace(strings.TrimSuffix(rest, "{1toN}"))
	}
	if rest == "" {
		return in, nil
	}
	for i, field := range strings.Split(rest, ",") {
		field = strings.TrimSpace(field)
		if i == 0 {
			field = in.parseDecorations(field)
		}
		o, err := parseOpnd(field)
		if err != nil {
			return nil, fmt.Errorf("%s operand %d: %w", mnemonic, i, err)
		}
		if i == 0 {
			in.Dsts = append(in.Dsts, o)
		} else {
			in.Srcs = append(in.Srcs, o)
		}
	}
	if in.Mask != regs.RegNull && !in.Mask.IsMask() {
		return nil, fmt.Errorf("%s is not a mask register: %w", in.Mask, rwerrors.ErrInvalidOperand)
	}
	// a bare [mem] shift count is always 16 bytes
	if op.ShiftsByCount() && len(in.Srcs) == 2 && in.Srcs[1].Kind == OpndMem && in.Srcs[1].Size == 0 {
		in.Srcs[1].Size = 16
	}
	return in, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(line string) *Instr {
	in, err := Parse(line)
	if err != nil {
		panic(err)
	}
	return in
}

// ParseList reads one instruction per non-empty line, assigning
// consecutive fake addresses starting at addr.
func ParseList(text string, addr uint64) (*List, error) {
	l := NewList()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		in, err := Parse(line)
		if err != nil {
			return nil, err
		}
		in.Addr = addr
		addr += 4
		l.Append(in)
	}
	return l, nil
}

// parseDecorations strips {kN} and {z} from the destination field.
func (in *Instr) parseDecorations(field string) string {
	for {
		open := strings.LastIndexByte(field, '{')
		if open < 0 || !strings.HasSuffix(field, "}") {
			return strings.TrimSpace(field)
		}
		deco := field[open+1 : len(field)-1]
		field = field[:open]
		if deco == "z" {
			in.Zeroing = true
			continue
		}
		if r, err := regs.Parse(deco); err == nil {
			in.Mask = r
		}
	}
}

func parseOpnd(s string) (Opnd, error) {
	size := 0
	if word, rest, ok := strings.Cut(s, " ptr "); ok {
		n, known := ptrSizes[strings.ToLower(strings.TrimSpace(word))]
		if !known {
			return Opnd{}, fmt.Errorf("bad size %q: %w", word, rwerrors.ErrInvalidOperand)
		}
		size = n
		s = strings.TrimSpace(rest)
	}
	switch {
	case strings.HasPrefix(s, "tls:[") && strings.HasSuffix(s, "]"):
		off, err := strconv.ParseInt(s[len("tls:["):len(s)-1], 0, 64)
		if err != nil {
			return Opnd{}, fmt.Errorf("bad tls offset %q: %w", s, rwerrors.ErrInvalidOperand)
		}
		return TLSOpnd(off, size), nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		o, err := parseMem(s[1 : len(s)-1])
		o.Size = size
		return o, err
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return ImmOpnd(v), nil
	}
	r, err := regs.Parse(s)
	if err != nil {
		return Opnd{}, err
	}
	return RegOpnd(r), nil
}

func parseMem(s string) (Opnd, error) {
	o := Opnd{Kind: OpndMem}
	s = strings.ReplaceAll(s, "-", "+-")
	for _, term := range strings.Split(s, "+") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if reg, scale, ok := strings.Cut(term, "*"); ok {
			r, err := regs.Parse(reg)
			if err != nil {
				return o, err
			}
			sc, err := strconv.ParseUint(scale, 0, 8)
			if err != nil {
				return o, fmt.Errorf("bad scale %q: %w", scale, rwerrors.ErrInvalidOperand)
			}
			o.Index, o.Scale = r, uint8(sc)
			continue
		}
		if v, err := strconv.ParseInt(term, 0, 64); err == nil {
			o.Disp += v
			continue
		}
		r, err := regs.Parse(term)
		if err != nil {
			return o, err
		}
		if o.Base == regs.RegNull {
			o.Base = r
		} else {
			o.Index, o.Scale = r, 1
		}
	}
	return o, nil
}
