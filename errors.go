package kcore

import (
	"errors"

	"github.com/behrlich/go-kcore/internal/kpanic"
)

// PanicError is the structured error carried by every kernel panic. The
// kernel has no recovery path; embedding applications and tests recover()
// and inspect it.
type PanicError = kpanic.Error

// PanicCode categorises kernel panics
type PanicCode = kpanic.Code

// Panic codes raised by the core
const (
	ErrCodeBadBlock      = kpanic.CodeBadBlock
	ErrCodeUnknownDevice = kpanic.CodeUnknownDevice
	ErrCodeDoubleFree    = kpanic.CodeDoubleFree
	ErrCodeDirtyVictim   = kpanic.CodeDirtyVictim
	ErrCodeDeviceIO      = kpanic.CodeDeviceIO
	ErrCodeProcTableFull = kpanic.CodeProcTableFull
	ErrCodeIdleSleep     = kpanic.CodeIdleSleep
	ErrCodeBadConfig     = kpanic.CodeBadConfig
)

// AsPanic converts a recover() value into a *PanicError, if it is one
func AsPanic(r interface{}) (*PanicError, bool) {
	err, ok := r.(error)
	if !ok {
		return nil, false
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
