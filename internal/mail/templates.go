package mail

import (
	"bytes"
	"html/template"

	"github.com/tazhibayda/auth-api/internal/domain"
)

var (
	verifyTmpl = template.Must(template.New("verify").Parse(
		`<p>Hello {{.Name}},</p>
<p>Please confirm your account by following this link:
<a href="{{.Link}}" target="_blank">Verify my account</a></p>
<p>The link is valid for 24 hours.</p>`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`<p>Hello,</p>
<p>To reset your password, follow this link:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link expires in 1 hour. If you did not ask for a reset, ignore this email.</p>`))
)

const (
	SubjectVerify = "Verify your account"
	SubjectReset  = "Password reset"
)

type linkData struct {
	Name string
	Link string
}

func render(t *template.Template, d linkData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func VerificationEmail(to, name, link string) (domain.Email, error) {
	body, err := render(verifyTmpl, linkData{Name: name, Link: link})
	if err != nil {
		return domain.Email{}, err
	}
	return domain.Email{To: to, Subject: SubjectVerify, HTML: body}, nil
}

func ResetEmail(to, link string) (domain.Email, error) {
	body, err := render(resetTmpl, linkData{Link: link})
	if err != nil {
		return domain.Email{}, err
	}
	return domain.Email{To: to, Subject: SubjectReset, HTML: body}, nil
}
