// Package xerrors adds call-site information to errors so the logger can
// report where a failure was created or wrapped.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// Re-exported so callers only need one errors import.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, 64)
	// 2 skips runtime.Callers and captureStack
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

// WithStack records the current stack on err. nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: captureStack(1)}
}

// EnsureTrace is WithStack unless something in the chain already carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &withStack{err: err, pcs: captureStack(1)}
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

func callerPC() uintptr {
	var pcs [1]uintptr
	// skip runtime.Callers, callerPC and Wrap/Wrapf
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC()}
}

func New(msg string) error {
	return &withStack{err: errors.New(msg), pcs: captureStack(1)}
}

func Newf(format string, args ...any) error {
	return &withStack{err: fmt.Errorf(format, args...), pcs: captureStack(1)}
}
