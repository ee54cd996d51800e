package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/pkg/logger"
)

// Notifier delivers best-effort "a conversation needs you" notices.
// Failures are logged by callers, never allowed to block a transition.
type Notifier interface {
	Notify(ctx context.Context, n *model.Notification) error
}

// NATSNotifier publishes notifications on a per-user subject for delivery
// workers to pick up.
type NATSNotifier struct {
	client *Client
	logger *logger.Logger
}

// NewNATSNotifier creates a NATS-backed notifier.
func NewNATSNotifier(client *Client, log *logger.Logger) *NATSNotifier {
	return &NATSNotifier{client: client, logger: log}
}

// Notify publishes the notification.
func (n *NATSNotifier) Notify(ctx context.Context, notification *model.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// An empty user ID fans the notice out to the whole company channel.
	subject := fmt.Sprintf("notify.%s", notification.UserID)
	if notification.UserID == "" {
		subject = fmt.Sprintf("notify.company.%s", notification.CompanyID)
	}
	if err := n.client.Conn().Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Debug("notification published",
		zap.String("user_id", notification.UserID),
		zap.String("kind", notification.Kind),
	)
	return nil
}

// NopNotifier drops notifications. Used in tests and when NATS is disabled.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(ctx context.Context, n *model.Notification) error {
	return nil
}
