// Copyright 2016 The Gofem Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// package errs classifies the fatal/non-fatal error kinds of the engine (spec §7)
package errs

import "github.com/cpmech/gosl/chk"

// Kind identifies one of the error categories handled by the driver
type Kind int

// error kinds
const (
	KindConfig    Kind = iota // fatal at setup; nonzero exit
	KindInvariant             // fatal at runtime; all processes abort
	KindComm                  // fatal; no recovery attempted
	KindCkptDump              // non-fatal; logged, loop continues
	KindCkptLoad              // fatal at restart
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindInvariant:
		return "invariant"
	case KindComm:
		return "comm"
	case KindCkptDump:
		return "checkpoint-dump"
	case KindCkptLoad:
		return "checkpoint-load"
	}
	return "unknown"
}

// E is an engine error carrying its kind
type E struct {
	K   Kind
	Msg string
}

func (e *E) Error() string { return e.K.String() + ": " + e.Msg }

// Config builds a setup-time configuration error
func Config(msg string, args ...interface{}) error {
	return &E{K: KindConfig, Msg: chk.Err(msg, args...).Error()}
}

// Invariant builds a runtime invariant-violation error; callers in the driver
// must treat this as fatal and abort all processes, never attempt local recovery
func Invariant(msg string, args ...interface{}) error {
	return &E{K: KindInvariant, Msg: chk.Err(msg, args...).Error()}
}

// Comm builds a communication-failure error
func Comm(msg string, args ...interface{}) error {
	return &E{K: KindComm, Msg: chk.Err(msg, args...).Error()}
}

// CkptDump builds a non-fatal checkpoint-dump error; the driver logs and retries next schedule
func CkptDump(msg string, args ...interface{}) error {
	return &E{K: KindCkptDump, Msg: chk.Err(msg, args...).Error()}
}

// CkptLoad builds a fatal checkpoint-restore error
func CkptLoad(msg string, args ...interface{}) error {
	return &E{K: KindCkptLoad, Msg: chk.Err(msg, args...).Error()}
}

// IsFatal reports whether an error of this kind must terminate the run
func IsFatal(err error) bool {
	e, ok := err.(*E)
	if !ok {
		return true // unclassified errors are conservatively fatal
	}
	return e.K != KindCkptDump
}
