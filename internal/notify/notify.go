// Package notify delivers one-time access codes to an account's e-mail address.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"storefront-api/internal/models"
)

var ErrInvalidMessage = errors.New("invalid access code message")

// AccessCodeMessage is one out-of-band delivery of a one-time code.
type AccessCodeMessage struct {
	To        string        `json:"to"`
	Role      models.Role   `json:"role"`
	Code      string        `json:"code"`
	ExpiresIn time.Duration `json:"expires_in"`
	IssuedAt  time.Time     `json:"issued_at"`
}

// Dispatcher sends access codes. An error means the code did not leave the
// process and the caller should treat the request as failed.
type Dispatcher interface {
	SendAccessCode(ctx context.Context, msg AccessCodeMessage) error
}

func (m AccessCodeMessage) Validate() error {
	if m.To == "" || m.Code == "" || !m.Role.Elevated() {
		return ErrInvalidMessage
	}
	return nil
}

// Expired reports whether the code can no longer be verified at now.
func (m AccessCodeMessage) Expired(now time.Time) bool {
	return !m.IssuedAt.IsZero() && !now.Before(m.IssuedAt.Add(m.ExpiresIn))
}

var accessCodeTemplate = template.Must(template.New("access-code").Parse(`<p>Hello,</p>
<p>Use the code below to unlock {{.Role}} access to your account:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.ExpiresIn}} and can be used once. If you did not request it, you can ignore this e-mail.</p>
`))

// Render returns the subject and HTML body for msg.
func Render(msg AccessCodeMessage) (subject, body string, err error) {
	if err := msg.Validate(); err != nil {
		return "", "", err
	}
	role := msg.Role.String()

	var buf bytes.Buffer
	err = accessCodeTemplate.Execute(&buf, struct {
		Role      string
		Code      string
		ExpiresIn string
	}{
		Role:      role,
		Code:      msg.Code,
		ExpiresIn: humanDuration(msg.ExpiresIn),
	})
	if err != nil {
		return "", "", fmt.Errorf("render access code email: %w", err)
	}
	return msg.Role.Title() + " access code", buf.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
