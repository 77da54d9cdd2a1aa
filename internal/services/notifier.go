package services

import (
	"context"

	"bank-sca/internal/logging"
	"bank-sca/internal/models"
)

// Notifier delivers a challenge to the user's device. code is the raw TAN;
// payload is what the device displays next to it.
type Notifier interface {
	Deliver(ctx context.Context, userID, challengeID string, payload models.DeliveryPayload, code string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID, challengeID string, payload models.DeliveryPayload, code string) error

func (f NotifierFunc) Deliver(ctx context.Context, userID, challengeID string, payload models.DeliveryPayload, code string) error {
	return f(ctx, userID, challengeID, payload, code)
}

type logNotifier struct {
	log logging.Logger
}

// NewLogNotifier records deliveries in the log. It stands in for a push or
// SMS gateway and never writes the code.
func NewLogNotifier(log logging.Logger) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) Deliver(ctx context.Context, userID, challengeID string, payload models.DeliveryPayload, _ string) error {
	n.log.Info(ctx, "challenge delivered",
		"user_id", userID,
		"challenge_id", challengeID,
		"kind", payload.Kind,
		"expires_in_seconds", payload.ExpiresInSeconds,
	)
	return nil
}
