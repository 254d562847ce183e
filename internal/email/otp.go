package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"
)

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <p>Use the code below to finish creating your account:</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>The code expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>
</body>
</html>`))

// OTPMessage renders the subject, text and HTML bodies of a verification
// email.
func OTPMessage(code string, ttl time.Duration) (subject, text, html string) {
	minutes := int(ttl.Minutes())
	subject = "Your verification code"
	text = fmt.Sprintf("Your verification code is: %s\n\nIt expires in %d minutes.", code, minutes)

	var buf bytes.Buffer
	if err := otpHTML.Execute(&buf, map[string]any{"Code": code, "Minutes": minutes}); err != nil {
		return subject, text, ""
	}
	return subject, text, buf.String()
}

// LogSender writes codes to the log instead of sending them. It is used when
// no email provider is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	s.logger.Info("verification code generated", "email", to, "code", code, "ttl", ttl)
	return nil
}
