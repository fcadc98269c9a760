package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindConfig ErrorKind = "config"
	KindData   ErrorKind = "data"
	KindModel  ErrorKind = "model"
	KindIO     ErrorKind = "io"
)

// StageError is the uniform error returned by every pipeline stage.
type StageError struct {
	Stage string
	Op    string
	Kind  ErrorKind
	File  string
	Line  int
	Err   error
}

func (e *StageError) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf(" (%s:%d)", filepath.Base(e.File), e.Line)
	}
	return fmt.Sprintf("%s: %s: %s error%s: %v", e.Stage, e.Op, e.Kind, loc, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Wrap attaches stage, operation, kind and the caller's source location to
// err. A nil err yields nil. An err that already is a StageError keeps its
// original kind and location.
func Wrap(stage, op string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) {
		return err
	}
	_, file, line, _ := runtime.Caller(1)
	return &StageError{Stage: stage, Op: op, Kind: kind, File: file, Line: line, Err: err}
}

// KindOf returns the kind of the first StageError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
