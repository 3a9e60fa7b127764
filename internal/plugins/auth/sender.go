package auth

import (
	"context"
	"log/slog"
)

// TokenSender delivers a raw one-time token to the user out of band,
// typically by email. Implementations must not persist the raw token.
type TokenSender interface {
	Send(ctx context.Context, user *User, kind, rawToken string) error
}

// logSender writes token issuance to the structured log instead of
// delivering it. Development stand-in until a mail transport exists.
type logSender struct{}

// NewLogSender returns a TokenSender that only logs.
func NewLogSender() TokenSender {
	return logSender{}
}

func (logSender) Send(_ context.Context, user *User, kind, rawToken string) error {
	slog.Info("one-time token issued",
		slog.String("kind", kind),
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("token", rawToken),
	)
	return nil
}
