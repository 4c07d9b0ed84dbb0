package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background-color: #f5f5f5; margin: 0; padding: 32px 0;">
<table role="presentation" style="max-width: 520px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 32px 40px;">
<tr><td>
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">{{.Subject}}</h1>
{{template "body" .Data}}
<p style="margin: 24px 0 0; color: #999; font-size: 12px;">TaskNest</p>
</td></tr>
</table>
</body>
</html>`

type kindTemplate struct {
	subject string
	tmpl    *template.Template
}

var templates = map[Kind]kindTemplate{
	KindTrialStarted: mustKind("Welcome to TaskNest!", `
<p>Hi {{.Name}},</p>
<p>Your {{.Days}}-day free trial of the {{.Plan}} plan has started. It ends on {{.TrialEndsAt}}.</p>`),

	KindTrialExpired: mustKind("Your TaskNest trial has ended", `
<p>Hi {{.Name}},</p>
<p>Your free trial has ended. Add a payment method to keep using your boards.</p>
{{if .UpgradeURL}}<p><a href="{{.UpgradeURL}}">Choose a plan</a></p>{{end}}`),

	KindPaymentConfirmation: mustKind("Payment received", `
<p>Hi {{.Name}},</p>
<p>We received your payment of {{.Amount}} {{.Currency}}. Your next billing date is {{.NextBillingDate}}.</p>
<p>Reference: {{.Reference}}</p>`),

	KindPaymentFailed: mustKind("Payment failed", `
<p>Hi {{.Name}},</p>
<p>We could not charge {{.Amount}} {{.Currency}} for your subscription.</p>
{{if .Final}}<p>Your subscription is now inactive.</p>{{else}}<p>We will retry on the next billing run.</p>{{end}}`),

	KindSubscriptionCancelled: mustKind("Subscription cancelled", `
<p>Hi {{.Name}},</p>
<p>Your {{.Plan}} subscription has been cancelled. You will not be charged again.</p>`),
}

func mustKind(subject, body string) kindTemplate {
	t := template.Must(template.New("layout").Parse(layout))
	template.Must(t.New("body").Option("missingkey=zero").Parse(body))
	return kindTemplate{subject: subject, tmpl: t}
}

// Render returns the subject and HTML body for msg
func Render(msg Message) (subject, html string, err error) {
	kt, ok := templates[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", msg.Kind)
	}

	subject = msg.Subject
	if subject == "" {
		subject = kt.subject
	}

	data := msg.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	var buf bytes.Buffer
	if err := kt.tmpl.Execute(&buf, struct {
		Subject string
		Data    map[string]interface{}
	}{Subject: subject, Data: data}); err != nil {
		return "", "", fmt.Errorf("failed to render %s template: %w", msg.Kind, err)
	}
	return subject, buf.String(), nil
}
