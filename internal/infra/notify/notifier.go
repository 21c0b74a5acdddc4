package notify

import (
	"billing-engine/internal/logger"
)

// Kinds of notifications the reconciliation pipeline emits. Delivery is
// fire-and-forget: a failed notification must never fail the webhook that
// triggered it, so callers log errors and move on.
const (
	KindPaymentFailed        = "payment-failed"
	KindDisputeCreated       = "dispute-created"
	KindTrialEnding          = "trial-ending"
	KindSubscriptionCanceled = "subscription-canceled"
)

type Notifier interface {
	Notify(kind string, payload map[string]string) error
}

// LogNotifier records notifications in the application log. The real
// transactional-email sender sits behind the same interface outside this
// engine.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(kind string, payload map[string]string) error {
	n.log.Infow("notification", "kind", kind, "payload", payload)
	return nil
}
