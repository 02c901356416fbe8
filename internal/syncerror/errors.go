// Package syncerror defines the error taxonomy of the sync pipeline.
package syncerror

import "fmt"

// FetchError indicates the transaction source was unreachable or rejected the
// request. The run aborts before any ledger mutation and the watermark stays
// untouched.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RuleError marks a single malformed rule. The rule is skipped and the run
// continues; this is the only failure the pipeline recovers from locally.
type RuleError struct {
	RuleSet string
	Pattern string
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s rule with pattern %q is invalid: %v", e.RuleSet, e.Pattern, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// ApplyError indicates the ledger write failed, possibly partway through.
// The watermark is never committed in this case, so the next run re-derives
// the same diff against whatever partial state landed.
type ApplyError struct {
	Stage string // "insert", "update" or "delete"
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// StateError indicates the watermark store could not be read or written.
type StateError struct {
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("sync state at %s: %v", e.Path, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
