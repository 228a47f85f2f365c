package main

import "github.com/Llucs/ZodinLinux/internal/orchestrator"

// exitError carries the process exit code a failure should produce (§6),
// so main can map it precisely instead of collapsing every RunE error to 1.
type exitError struct {
	code orchestrator.ExitCode
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code orchestrator.ExitCode, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCode extracts the process exit status for err: 0 on nil, the
// carried code for an *exitError, 1 (usage) otherwise.
func exitCode(err error) int {
	if err == nil {
		return int(orchestrator.ExitOK)
	}
	var ee *exitError
	if ok := asExitError(err, &ee); ok {
		return int(ee.code)
	}
	return int(orchestrator.ExitUsage)
}

func asExitError(err error, target **exitError) bool {
	for err != nil {
		if ee, ok := err.(*exitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
