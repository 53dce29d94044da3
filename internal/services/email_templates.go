package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

const emailLayout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        {{template "content" .}}
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>`

var (
	resetHTML = htmltemplate.Must(htmltemplate.Must(htmltemplate.New("layout").Parse(emailLayout)).New("content").Parse(`
        <div class="header"><h1>Reset Your Password</h1></div>
        <p>We received a request to reset the password for your station account.</p>
        <p><a href="{{.Link}}" class="button">Reset Password</a></p>
        <p>Or copy and paste this link in your browser:<br><code>{{.Link}}</code></p>
        <div class="warning"><strong>Security Notice:</strong> This link expires at {{.ExpiresAt}} and can be used once.</div>
        <p>If you did not request a reset, you can ignore this email. Your password will not change.</p>`))

	resetText = texttemplate.Must(texttemplate.New("reset").Parse(`Reset Your Password

We received a request to reset the password for your station account.

Open this link to choose a new password:
{{.Link}}

This link expires at {{.ExpiresAt}} and can be used once.

If you did not request a reset, you can ignore this email. Your password will not change.
`))

	changedHTML = htmltemplate.Must(htmltemplate.Must(htmltemplate.New("layout").Parse(emailLayout)).New("content").Parse(`
        <div class="header"><h1>Your Password Was Changed</h1></div>
        <p>The password for your station account was changed at {{.ChangedAt}}.</p>
        <div class="warning"><strong>Not you?</strong> Request a password reset immediately and contact an administrator.</div>`))

	changedText = texttemplate.Must(texttemplate.New("changed").Parse(`Your Password Was Changed

The password for your station account was changed at {{.ChangedAt}}.

Not you? Request a password reset immediately and contact an administrator.
`))
)

type resetEmailData struct {
	Link      string
	ExpiresAt string
}

type changedEmailData struct {
	ChangedAt string
}

func renderPasswordResetEmail(to, link string, expiresAt time.Time) (EmailMessage, error) {
	data := resetEmailData{Link: link, ExpiresAt: expiresAt.UTC().Format(time.RFC1123)}
	return render(to, "Reset your password", "layout", resetHTML, resetText, data)
}

func renderPasswordChangedEmail(to string, changedAt time.Time) (EmailMessage, error) {
	data := changedEmailData{ChangedAt: changedAt.UTC().Format(time.RFC1123)}
	return render(to, "Your password was changed", "layout", changedHTML, changedText, data)
}

func render(to, subject, layout string, html *htmltemplate.Template, text *texttemplate.Template, data any) (EmailMessage, error) {
	var htmlBuf, textBuf bytes.Buffer

	if err := html.ExecuteTemplate(&htmlBuf, layout, data); err != nil {
		return EmailMessage{}, fmt.Errorf("failed to render html email: %w", err)
	}
	if err := text.Execute(&textBuf, data); err != nil {
		return EmailMessage{}, fmt.Errorf("failed to render text email: %w", err)
	}

	return EmailMessage{
		To:      to,
		Subject: subject,
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}
