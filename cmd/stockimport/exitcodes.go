package main

import (
	"context"
	"errors"

	"github.com/JonMunkholm/stockimport/internal/core"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
	exitRejected   = 6
	exitCancelled  = 130
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// classify attaches the exit code of a failed import run.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrInvalidJob):
		return withCode(exitValidation, err)
	case core.IsSecurityError(err), errors.Is(err, core.ErrInvalidCSV):
		return withCode(exitRejected, err)
	case errors.Is(err, context.Canceled):
		return withCode(exitCancelled, err)
	case core.IsBatchWriteError(err):
		return withCode(exitDBWrite, err)
	default:
		return err
	}
}
