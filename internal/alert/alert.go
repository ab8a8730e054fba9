// Package alert notifies operators about security incidents: repeated
// second-factor failures and audit-chain verification breaks. Alert
// delivery is best-effort and never changes the outcome of the operation
// that raised it.
package alert

import "context"

// Alerter sends an operator notification.
type Alerter interface {
	Notify(ctx context.Context, subject, body string) error
}

// Noop discards alerts; used when alerting is disabled and in tests.
type Noop struct{}

func (Noop) Notify(ctx context.Context, subject, body string) error { return nil }
