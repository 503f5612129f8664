// Package notify dispatches stage-change notifications: trigger
// resolution, token-substitution rendering, SMTP delivery and an audit
// row per send attempt.
package notify

import (
	"fmt"
	"net/smtp"
)

// Mailer sends a rendered notification to one recipient.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// SMTPMailer sends plain text mail over SMTP.
type SMTPMailer struct {
	config SMTPConfig
	server string
	auth   smtp.Auth
}

// NewSMTPMailer creates a mailer from the given configuration.
func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured returns true if mail delivery is configured.
func (s *SMTPMailer) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send sends a plain text email.
func (s *SMTPMailer) Send(to, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("mail not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		to,
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, []string{to}, msg)
}
