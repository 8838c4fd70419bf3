package engine

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// invariantViolation marks a category-4 error per spec §7: a state Execute's own
// bookkeeping should make impossible (an unhandled SYSTEM subop, a compiled fingerprint
// with no cached launcher, an operand with neither a base nor a constant payload). These are
// raised with exceptions.Panicf rather than returned, mirroring how the teacher
// distinguishes "this should never happen" from the ordinary error categories above.
type invariantViolation struct {
	msg string
}

func (e *invariantViolation) Error() string { return e.msg }

// invariantf raises a category-4 panic. Only call this for conditions Execute's own
// preceding logic should have already ruled out.
func invariantf(format string, args ...any) {
	exceptions.Panicf("engine: invariant violation: %s", fmt.Sprintf(format, args...))
}

// guardInvariants runs fn, converting any exceptions.Panicf raised within it (or any
// other panic) into a returned error instead of letting it unwind past Execute.
func guardInvariants(fn func() error) (err error) {
	caught := exceptions.TryCatch[error](func() {
		err = fn()
	})
	if caught != nil {
		return &invariantViolation{msg: caught.Error()}
	}
	return err
}
