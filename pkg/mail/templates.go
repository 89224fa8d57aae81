package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `<div style="font-family:-apple-system,BlinkMacSystemFont,Segoe UI,Roboto,Helvetica,Arial">{{template "body" .}}<p>Regards,<br/>HRM System</p></div>`

var (
	inviteTemplate = template.Must(template.Must(template.New("invite").Parse(layout)).New("body").Parse(`
<h2>Hello {{.Name}},</h2>
<p>You have been invited to activate your account on the HRM system.</p>
<p>Use the button below to set a password and activate your account:</p>
<p style="margin:24px 0"><a href="{{.Link}}" style="display:inline-block;background:#111;color:#fff;padding:10px 16px;border-radius:8px;text-decoration:none">Activate account</a></p>
<p>If the button does not work, copy this link into your browser:</p>
<p style="word-break:break-all"><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link expires in {{.TTL}}.</p>`))

	otpTemplate = template.Must(template.Must(template.New("otp").Parse(layout)).New("body").Parse(`
<h2>Password reset</h2>
<p>Your verification code is <b>{{.Code}}</b>.</p>
<p>The code is valid for <b>{{.TTL}}</b>.</p>`))

	verifyTemplate = template.Must(template.Must(template.New("verify").Parse(layout)).New("body").Parse(`
<h2>Confirm your account</h2>
<p>Follow the link below to verify your email address:</p>
<a href="{{.Link}}">Verify email</a>
<p>The link expires in {{.TTL}}.</p>`))
)

// Subjects of the account mails
const (
	SubjectInvite = "Activate your HRM account"
	SubjectOTP    = "Password reset verification"
	SubjectVerify = "Confirm your account"
)

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s mail: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// InviteMessage builds the account activation mail
func InviteMessage(to, name, link, ttl string) (Message, error) {
	html, err := render(inviteTemplate.Lookup("invite"), struct{ Name, Link, TTL string }{name, link, ttl})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{to},
		Subject: SubjectInvite,
		HTML:    html,
		Text:    fmt.Sprintf("Hello %s,\n\nActivate your account: %s\n\nRegards,\nHRM System", name, link),
	}, nil
}

// OTPMessage builds the password reset code mail
func OTPMessage(to, code, ttl string) (Message, error) {
	html, err := render(otpTemplate.Lookup("otp"), struct{ Code, TTL string }{code, ttl})
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: SubjectOTP, HTML: html}, nil
}

// VerifyMessage builds the email verification mail
func VerifyMessage(to, link, ttl string) (Message, error) {
	html, err := render(verifyTemplate.Lookup("verify"), struct{ Link, TTL string }{link, ttl})
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: SubjectVerify, HTML: html}, nil
}
