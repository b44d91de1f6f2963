// Package notify delivers verification and reset links to account holders.
// The security core only depends on the Notifier interface; the shipped
// implementation emits structured log lines, leaving actual mail transport
// to the deployment.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gatehouse.org/internal/obs"
)

// Notifier is the notification collaborator. Failures are degraded-mode for
// callers: the primary operation proceeds, the failure is logged.
type Notifier interface {
	SendVerification(ctx context.Context, email, token, displayName string) error
	SendPasswordReset(ctx context.Context, email, token, displayName string) error
}

// LogNotifier writes the delivery as a JSON log line containing the link.
// Suitable for development and for deployments where a log shipper forwards
// to the actual sender.
type LogNotifier struct {
	// BaseURL is the externally reachable base used when building links.
	BaseURL string
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(baseURL string) *LogNotifier {
	return &LogNotifier{BaseURL: baseURL}
}

func (n *LogNotifier) SendVerification(ctx context.Context, email, token, displayName string) error {
	return n.emit(ctx, "email.verification", email, displayName,
		n.link("/verify-email", token))
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, token, displayName string) error {
	return n.emit(ctx, "email.password_reset", email, displayName,
		n.link("/reset-password", token))
}

func (n *LogNotifier) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", n.BaseURL, path, url.QueryEscape(token))
}

func (n *LogNotifier) emit(ctx context.Context, kind, email, displayName, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "notification",
		"kind":  kind,
		"email": email,
		"link":  link,
	}
	if displayName != "" {
		entry["display_name"] = displayName
	}
	obs.LogRequest(entry)
	return nil
}
