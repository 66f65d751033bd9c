/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the semantic classification used to decide whether a failed job is
// retried, dead-lettered, or surfaced to the caller. Handlers return coded
// errors; the worker pool only ever inspects the kind.
type Kind string

const (
	KindTransient      Kind = "transient"
	KindThrottle       Kind = "throttle_upstream"
	KindValidation     Kind = "validation"
	KindBudgetExceeded Kind = "budget_exceeded"
	KindConflict       Kind = "conflict"
	KindFatal          Kind = "fatal"
)

// Coded wraps an error with a semantic kind and a stable user-facing code.
type Coded struct {
	Kind Kind
	Code string
	Err  error

	// RetryAfter carries an upstream 429 Retry-After hint. Zero when absent.
	RetryAfter time.Duration
}

func (e *Coded) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *Coded) Unwrap() error { return e.Err }

func Transient(code string, err error) error {
	return &Coded{Kind: KindTransient, Code: code, Err: err}
}

func Throttle(code string, err error, retryAfter time.Duration) error {
	return &Coded{Kind: KindThrottle, Code: code, Err: err, RetryAfter: retryAfter}
}

func Validation(code string, err error) error {
	return &Coded{Kind: KindValidation, Code: code, Err: err}
}

func BudgetExceeded(code string, err error) error {
	return &Coded{Kind: KindBudgetExceeded, Code: code, Err: err}
}

func Conflict(code string, err error) error {
	return &Coded{Kind: KindConflict, Code: code, Err: err}
}

func Fatal(code string, err error) error {
	return &Coded{Kind: KindFatal, Code: code, Err: err}
}

func kindOf(err error) (Kind, bool) {
	var coded *Coded
	if errors.As(err, &coded) {
		return coded.Kind, true
	}
	return "", false
}

// IsRetryable returns true if the error (even if it's wrapped) is known to be
// transient or upstream throttling. Unclassified errors are treated as
// retryable so that unexpected infrastructure failures get the benefit of
// backoff rather than an immediate dead-letter.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := kindOf(err)
	if !ok {
		return true
	}
	return kind == KindTransient || kind == KindThrottle
}

// IsThrottle returns true if the error carries an upstream 429 classification.
func IsThrottle(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindThrottle
}

// IsValidation returns true for payload or state-transition violations, which
// are never retried.
func IsValidation(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindValidation
}

// IsBudgetExceeded returns true for AI hard stops and rate-limit denials.
func IsBudgetExceeded(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindBudgetExceeded
}

// IsConflict returns true for duplicate-collapse outcomes. Conflicts are not
// failures; callers collapse to the existing state.
func IsConflict(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindConflict
}

// IsFatal returns true for errors that must stop the worker without advancing
// job state, such as an unreachable data store.
func IsFatal(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindFatal
}

// RetryAfter extracts the upstream retry hint from a throttle error, returning
// zero when the error carries none.
func RetryAfter(err error) time.Duration {
	var coded *Coded
	if errors.As(err, &coded) {
		return coded.RetryAfter
	}
	return 0
}

// Code returns the stable user-facing code for the error, or "internal" for
// unclassified errors whose details stay in the logs.
func Code(err error) string {
	var coded *Coded
	if errors.As(err, &coded) {
		return coded.Code
	}
	return "internal"
}
