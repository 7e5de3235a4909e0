package accounts

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/mrz1836/postmark"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendVerificationEmail(ctx context.Context, to, name, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to, name, resetLink string) error
}

// EmailComposer renders subjects and HTML bodies of account mail.
type EmailComposer struct {
	AppName string
}

type emailData struct {
	Name    string
	AppName string
	Link    string
}

func (c EmailComposer) VerificationEmail(name, link string) (subject, body string, err error) {
	body, err = render("activation_email.html", emailData{Name: name, AppName: c.AppName, Link: link})
	return "Activate your " + c.AppName + " account.", body, err
}

func (c EmailComposer) PasswordResetEmail(name, link string) (subject, body string, err error) {
	body, err = render("reset_password_email.html", emailData{Name: name, AppName: c.AppName, Link: link})
	return "Reset Password for " + c.AppName + ".", body, err
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// ConsoleEmailSender is a development implementation that logs emails
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, to, name, verificationLink string) error {
	c.logger().InfoContext(ctx, "email: verification", "to", to, "name", name, "link", verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to, name, resetLink string) error {
	c.logger().InfoContext(ctx, "email: password reset", "to", to, "name", name, "link", resetLink)
	return nil
}

// PostmarkConfig configures the Postmark sender
type PostmarkConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string `env:"-"` // Config.SenderEmail
	ReplyTo      string `env:"EMAIL_REPLY_TO"`
}

// LoadPostmarkConfig parses the Postmark tokens from the environment and
// takes the sender address from cfg.
func LoadPostmarkConfig(cfg *Config) (PostmarkConfig, error) {
	var pm PostmarkConfig
	if err := env.Parse(&pm); err != nil {
		return pm, fmt.Errorf("parsing postmark config: %w", err)
	}
	pm.SenderEmail = cfg.SenderEmail
	return pm, nil
}

// PostmarkEmailSender delivers account mail through Postmark's transactional API.
type PostmarkEmailSender struct {
	client   *postmark.Client
	config   PostmarkConfig
	composer EmailComposer
}

func NewPostmarkEmailSender(cfg PostmarkConfig, composer EmailComposer) (*PostmarkEmailSender, error) {
	if cfg.ServerToken == "" {
		return nil, errors.New("postmark: server token is required")
	}
	if cfg.SenderEmail == "" {
		return nil, errors.New("postmark: sender email is required")
	}
	return &PostmarkEmailSender{
		client:   postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config:   cfg,
		composer: composer,
	}, nil
}

func (p *PostmarkEmailSender) SendVerificationEmail(ctx context.Context, to, name, verificationLink string) error {
	subject, body, err := p.composer.VerificationEmail(name, verificationLink)
	if err != nil {
		return err
	}
	return p.send(ctx, to, subject, "account-activation", body)
}

func (p *PostmarkEmailSender) SendPasswordResetEmail(ctx context.Context, to, name, resetLink string) error {
	subject, body, err := p.composer.PasswordResetEmail(name, resetLink)
	if err != nil {
		return err
	}
	return p.send(ctx, to, subject, "password-reset", body)
}

func (p *PostmarkEmailSender) send(ctx context.Context, to, subject, tag, body string) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.config.SenderEmail,
		ReplyTo:    p.config.ReplyTo,
		To:         to,
		Subject:    subject,
		Tag:        tag,
		HTMLBody:   body,
		TrackOpens: false,
	})
	if err != nil {
		return fmt.Errorf("postmark: sending %s: %w", tag, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
