package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type SMSConfig struct {
	BaseURL string
	Token   string
	Sender  string
}

// SMSSender talks to the Pindo bulk SMS API.
type SMSSender struct {
	client *resty.Client
	sender string
}

func NewSMSSender(cfg SMSConfig) *SMSSender {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10*time.Second).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json")
	return &SMSSender{client: client, sender: cfg.Sender}
}

type smsRequest struct {
	To     string `json:"to"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	_, text, err := Render(msg)
	if err != nil {
		return err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(smsRequest{To: toE164(msg.Recipient), Text: text, Sender: s.sender}).
		Post("/sms/")
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms request failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// toE164 turns a local Rwandan number (07...) into +2507...
func toE164(phone string) string {
	switch {
	case len(phone) > 0 && phone[0] == '+':
		return phone
	case len(phone) >= 3 && phone[:3] == "250":
		return "+" + phone
	case len(phone) > 0 && phone[0] == '0':
		return "+250" + phone[1:]
	}
	return phone
}
