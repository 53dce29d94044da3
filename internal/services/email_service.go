package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	pkglogger "github.com/airwaves/stationcms/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"gopkg.in/gomail.v2"
)

// EmailMessage is a rendered message ready for a transport
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailSender delivers rendered messages. Returns the provider message id
// when the transport has one.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// EmailService renders password notifications and hands them to a sender
type EmailService struct {
	sender       EmailSender
	resetURLBase string
	logger       *slog.Logger
}

func NewEmailService(sender EmailSender, resetURLBase string, logger *slog.Logger) *EmailService {
	return &EmailService{
		sender:       sender,
		resetURLBase: resetURLBase,
		logger:       logger,
	}
}

// ResetLink sets the token query parameter on the configured reset page URL,
// keeping any query the base already carries
func (s *EmailService) ResetLink(token string) string {
	link, err := url.Parse(s.resetURLBase)
	if err != nil {
		return s.resetURLBase + "?token=" + url.QueryEscape(token)
	}
	query := link.Query()
	query.Set("token", token)
	link.RawQuery = query.Encode()
	return link.String()
}

// SendPasswordResetEmail mails the reset link carrying the plaintext token
func (s *EmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	msg, err := renderPasswordResetEmail(email, s.ResetLink(token), expiresAt)
	if err != nil {
		return err
	}
	return s.send(ctx, "password_reset", msg)
}

// SendPasswordChangedEmail confirms a completed change or reset
func (s *EmailService) SendPasswordChangedEmail(ctx context.Context, email string, changedAt time.Time) error {
	msg, err := renderPasswordChangedEmail(email, changedAt)
	if err != nil {
		return err
	}
	return s.send(ctx, "password_changed", msg)
}

func (s *EmailService) send(ctx context.Context, kind string, msg EmailMessage) error {
	messageID, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send email",
			slog.String("kind", kind),
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}

	s.logger.InfoContext(ctx, "email sent",
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("message_id", messageID))
	return nil
}

// SESEmailSender sends email using AWS SES
type SESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
}

func NewSESEmailSender(ctx context.Context, region, fromAddress string) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
	}, nil
}

func (s *SESEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTML),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(msg.Text),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPEmailSender sends email through an SMTP relay
type SMTPEmailSender struct {
	config SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPEmailSender(cfg SMTPConfig) *SMTPEmailSender {
	return &SMTPEmailSender{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send dials the relay per message. gomail has no context support, so ctx
// is only checked before dialing.
func (s *SMTPEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	return "", nil
}
