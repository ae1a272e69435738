// Package rwerrors holds the sentinel errors of the rewriter. Messages
// have the form "CODE|Name: description"; callers wrap them with %w and
// match with errors.Is.
package rwerrors

import (
	"errors"
	"strings"
)

// Allocation errors abort a block rewrite.
var (
	ErrExhaustedSlots  = errors.New("R1|ExhaustedSlots: Spill slot pool cannot supply the requested number of registers.")
	ErrNoFreeRegister  = errors.New("R2|NoFreeRegister: No physical register is free for an extended register.")
	ErrNoFreePair      = errors.New("R3|NoFreePair: Fewer than two physical registers are free for a wide register.")
	ErrIndexOutOfRange = errors.New("R6|IndexOutOfRange: Register index outside 0..31.")
)

// Rewrite errors leave the instruction in place.
var (
	ErrNotSupported      = errors.New("R4|NotSupported: Operand pattern not supported by the substitution engine.")
	ErrInvalidConversion = errors.New("R5|InvalidConversion: Register has no view of the requested width.")
	ErrInvalidOperand    = errors.New("R7|InvalidOperand: Operand is not a register of the expected class.")
)

var allocation = []error{ErrExhaustedSlots, ErrNoFreeRegister, ErrNoFreePair, ErrIndexOutOfRange}

var known = append([]error{ErrNotSupported, ErrInvalidConversion, ErrInvalidOperand}, allocation...)

func matchAny(err error, set []error) error {
	for _, k := range set {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsAllocation reports whether err is an allocator failure.
func IsAllocation(err error) bool {
	return err != nil && matchAny(err, allocation) != nil
}

// parse splits the message of the sentinel err wraps into code and name.
// Errors without a sentinel give an empty code and their whole message.
func parse(err error) (code, name string) {
	s := err.Error()
	if k := matchAny(err, known); k != nil {
		s = k.Error()
	}
	code, rest, ok := strings.Cut(s, "|")
	if !ok {
		return "", s
	}
	name, _, ok = strings.Cut(rest, ":")
	if !ok {
		return "", s
	}
	return strings.TrimSpace(code), strings.TrimSpace(name)
}

// GetErrorName returns e.g. "NoFreePair" for an error wrapping ErrNoFreePair.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	_, name := parse(err)
	return name
}

func GetErrorNames(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = GetErrorName(err)
	}
	return out
}

// GetErrorCode returns e.g. "R3", or "" for nil and foreign errors.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	code, _ := parse(err)
	return code
}

// GetErrorCodeWithName returns "Code_Name", or "" when err has no code.
func GetErrorCodeWithName(err error) string {
	if code := GetErrorCode(err); code != "" {
		return code + "_" + GetErrorName(err)
	}
	return ""
}
