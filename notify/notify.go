// Package notify defines the outbound notification gateway. The core
// treats every send as fire-and-forget: failures are logged by the caller,
// never retried and never propagated as request failures.
package notify

import (
	"context"
	"log"
)

// Gateway delivers user-facing security notifications. Implementations own
// templating and transport; the core passes plain strings.
type Gateway interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, body string) error
}

// LogGateway writes notifications to the process log. It is the default
// when no real gateway is wired, and keeps the notification call sites
// exercised in development.
type LogGateway struct{}

// SendEmail logs the email instead of sending it.
func (LogGateway) SendEmail(_ context.Context, to, subject, _ string) error {
	log.Printf("identity: email to %s: %s", to, subject)
	return nil
}

// SendSMS logs the SMS instead of sending it.
func (LogGateway) SendSMS(_ context.Context, to, _ string) error {
	log.Printf("identity: sms to %s", to)
	return nil
}
