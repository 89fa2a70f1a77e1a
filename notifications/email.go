package notifications

import (
	"context"
	"fmt"
	"net/smtp"
)

type SMTPConfig struct {
	Address  string // host:port
	Host     string
	From     string
	Password string
}

type EmailSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg, send: smtp.SendMail}
}

func (s *EmailSender) Send(_ context.Context, msg Message) error {
	subject, text, err := Render(msg)
	if err != nil {
		return err
	}
	body, err := RenderHTML(text)
	if err != nil {
		return err
	}

	message := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n%s",
		s.cfg.From,
		msg.Recipient,
		subject,
		body,
	)

	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)
	if err := s.send(s.cfg.Address, auth, s.cfg.From, []string{msg.Recipient}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
