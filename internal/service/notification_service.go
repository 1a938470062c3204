package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/events"
)

// Message is an outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers outbound email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("mailer")}
}

// Send logs msg. Bodies carry one-time tokens and are only logged at debug.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email queued", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	m.logger.Debug("email body", zap.String("to", msg.To), zap.String("body", msg.Body))
	return nil
}

// NotificationService turns domain events into email.
type NotificationService struct {
	dispatcher events.Dispatcher
	mailer     Mailer
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, mailer Mailer, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		mailer:     mailer,
		logger:     logger.Named("notifications"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventUserRegistered, n.handleUserRegistered)
	n.dispatcher.Subscribe(events.EventVerificationRequested, n.handleUserRegistered)
	n.dispatcher.Subscribe(events.EventPasswordResetRequested, n.handlePasswordResetRequested)
	n.dispatcher.Subscribe(events.EventPasswordChanged, n.handlePasswordChanged)
	n.dispatcher.Subscribe(events.EventUserDeleted, n.handleUserDeleted)
}

func (n *NotificationService) handleUserRegistered(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.UserRegisteredPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.send(ctx, event, payload.Email, "Confirm your email address",
		fmt.Sprintf("Hello %s,\n\nUse this code to verify your email: %s\n", payload.FirstName, payload.VerificationToken))
}

func (n *NotificationService) handlePasswordResetRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PasswordResetRequestedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.send(ctx, event, payload.Email, "Password reset",
		fmt.Sprintf("Use this code to reset your password: %s\nIt expires at %s.\n",
			payload.Token, payload.ExpiresAt.Format("2006-01-02 15:04 MST")))
}

func (n *NotificationService) handlePasswordChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PasswordChangedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.send(ctx, event, payload.Email, "Your password was changed",
		"Your password was changed and all other sessions were signed out.\n")
}

func (n *NotificationService) handleUserDeleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.UserDeletedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.send(ctx, event, payload.Email, "Your account was deleted",
		"Your account and all of its sessions have been removed.\n")
}

func (n *NotificationService) send(ctx context.Context, event events.Event, to, subject, body string) error {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || n.mailer == nil {
		n.logger.Debug("email notifications disabled", zap.String("event_type", string(event.Type)))
		return nil
	}
	err := n.mailer.Send(ctx, Message{From: n.cfg.EmailFrom, To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("send %s email: %w", event.Type, err)
	}
	return nil
}

func unexpectedPayload(event events.Event) error {
	return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
}
