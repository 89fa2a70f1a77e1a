package notifications

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

type content struct {
	subject string
	body    string
}

var catalogue = map[Kind]content{
	KindOrderConfirmed: {
		subject: "Order {{.orderNumber}} confirmed",
		body:    "Hello {{.name}}, your order {{.orderNumber}} of {{.amount}} RWF is confirmed and being prepared.",
	},
	KindOrderCancelled: {
		subject: "Order {{.orderNumber}} cancelled",
		body:    "Hello {{.name}}, your order {{.orderNumber}} was cancelled. {{.reason}}",
	},
	KindPaymentPending: {
		subject: "Complete payment for {{.orderNumber}}",
		body:    "Hello {{.name}}, please approve the payment of {{.amount}} RWF for order {{.orderNumber}}.",
	},
	KindPaymentFailed: {
		subject: "Payment failed for {{.orderNumber}}",
		body:    "Hello {{.name}}, the payment for order {{.orderNumber}} failed: {{.reason}}",
	},
	KindWalletCredited: {
		subject: "Wallet credited",
		body:    "Hello {{.name}}, {{.amount}} RWF was added to your wallet. New balance: {{.balance}} RWF.",
	},
	KindTopUpFailed: {
		subject: "Wallet top-up failed",
		body:    "Hello {{.name}}, your wallet top-up of {{.amount}} RWF failed: {{.reason}}",
	},
	KindSubscriptionActive: {
		subject: "Subscription active",
		body:    "Hello {{.name}}, your {{.plan}} subscription is active until {{.endsAt}}.",
	},
	KindSubscriptionFailed: {
		subject: "Subscription payment failed",
		body:    "Hello {{.name}}, the payment for your {{.plan}} subscription failed: {{.reason}}",
	},
	KindSubscriptionExpired: {
		subject: "Subscription expired",
		body:    "Hello {{.name}}, your {{.plan}} subscription has expired.",
	},
	KindOrderStatusProgress: {
		subject: "Order {{.orderNumber}} is {{.status}}",
		body:    "Hello {{.name}}, your order {{.orderNumber}} is now {{.status}}.",
	},
}

const emailLayout = `<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<p>{{.Body}}</p>
<p>Food Bundles</p>
</body></html>`

var emailTmpl = htmltemplate.Must(htmltemplate.New("email").Parse(emailLayout))

// Render returns the subject and plain text body for a message.
func Render(msg Message) (string, string, error) {
	c, ok := catalogue[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", msg.Kind)
	}
	subject, err := execText(c.subject, msg.Data)
	if err != nil {
		return "", "", err
	}
	body, err := execText(c.body, msg.Data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// RenderHTML wraps the text body in the email layout.
func RenderHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, struct{ Body string }{body}); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

func execText(src string, data map[string]string) (string, error) {
	t, err := template.New("").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("template parse error: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}
