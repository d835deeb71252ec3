// Package kpanic defines the kernel panic error carried by every fatal
// invariant violation in go-kcore. A panic here is the moral equivalent of
// a kernel halt: there is no recovery path in the kernel itself, but tests
// and embedding applications can recover() and inspect the *Error.
package kpanic

import (
	"errors"
	"fmt"
)

// Code is a high-level panic category
type Code string

const (
	CodeBadBlock      Code = "invalid block identity"
	CodeUnknownDevice Code = "unknown device"
	CodeDoubleFree    Code = "freeing buffer twice"
	CodeDirtyVictim   Code = "dirty victim on free list"
	CodeDeviceIO      Code = "device I/O failed"
	CodeProcTableFull Code = "process table full"
	CodeIdleSleep     Code = "idle process cannot sleep"
	CodeBadConfig     Code = "invalid configuration"
)

// Error is a structured kernel panic with context
type Error struct {
	Op    string // Operation that failed (e.g., "getblk", "brelse")
	Dev   int    // Device number (0 if not applicable)
	Block int64  // Block number (-1 if not applicable)
	Code  Code   // High-level panic category
	Msg   string // Human-readable message
	Inner error  // Wrapped error (driver failures)
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	s := fmt.Sprintf("kernel panic: %s", msg)
	if e.Op != "" {
		s += fmt.Sprintf(" (op=%s", e.Op)
		if e.Dev != 0 || e.Block >= 0 {
			s += fmt.Sprintf(" dev=%d block=%d", e.Dev, e.Block)
		}
		s += ")"
	}
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches any *Error with the same Code
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// Panic halts the kernel with a structured error. It never returns.
func Panic(e *Error) {
	panic(e)
}

// Panicf halts the kernel with a code, an operation, and a formatted message
func Panicf(code Code, op, format string, args ...interface{}) {
	panic(&Error{Op: op, Block: -1, Code: code, Msg: fmt.Sprintf(format, args...)})
}
