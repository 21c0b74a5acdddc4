package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

// Kind classifies a failure for the webhook response decision: transient
// failures get a 5xx so Stripe redelivers, permanent ones are acknowledged
// and surfaced through the billing_events error column.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

func Permanentf(format string, args ...interface{}) error {
	return &Error{Kind: KindPermanent, Err: fmt.Errorf(format, args...)}
}

// IsDuplicate reports whether err is a uniqueness-constraint violation.
// Requires gorm.Config{TranslateError: true} on the DB handle.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsTransient decides whether the caller should ask for a retry. An explicit
// Kind attached at raise time wins; errors crossing the Stripe or driver
// boundary fall back to status-code and message inspection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind == KindTransient
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.HTTPStatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	return looksTransient(err.Error())
}

// Message patterns for errors raised by opaque third parties (driver, pool,
// network). Explicitly-kinded errors never reach this.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many connections",
	"too many clients",
	"connection pool exhausted",
	"i/o timeout",
	"temporarily unavailable",
}

func looksTransient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
