package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error kinds. Every error returned by a service wraps exactly one of these,
// so callers classify with errors.Is.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrPayoutFailed        = errors.New("payout failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOutcomeUnknown      = errors.New("outcome unknown")

	// ErrAlreadyClaimed is the precondition failure seen by the loser of a
	// claim race.
	ErrAlreadyClaimed = fmt.Errorf("%w: already claimed", ErrPreconditionFailed)
	// ErrNotAMember means the actor holds no role in the group.
	ErrNotAMember = fmt.Errorf("%w: not a member", ErrForbidden)
)

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func precondition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeErr classifies an error coming back from gorm. A missing row becomes
// ErrNotFound, an expired request context becomes ErrOutcomeUnknown (the
// statement may or may not have been applied), anything else is passed
// through wrapped with op.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(op)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %v", ErrOutcomeUnknown, op, err)
	case isKind(err):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isKind(err error) bool {
	for _, k := range []error{
		ErrUnauthorized, ErrForbidden, ErrNotFound, ErrPreconditionFailed,
		ErrInvalidInput, ErrPayoutFailed, ErrInsufficientBalance, ErrOutcomeUnknown,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func isPrecondition(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}
