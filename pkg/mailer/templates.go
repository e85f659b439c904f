package mailer

import (
	"fmt"
	"time"
)

const (
	VerifyEmailSubject   = "Verify your email address"
	ResetPasswordSubject = "Reset your password"
)

const codeTemplate = `<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #222;">
    <h2>%s</h2>
    <p>%s</p>
    <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">%s</p>
    <p>This code expires in %s. If you did not request it, you can ignore this email.</p>
  </body>
</html>`

// VerifyEmailTemplate renders the body of the account verification email.
func VerifyEmailTemplate(code string, ttl time.Duration) string {
	return fmt.Sprintf(codeTemplate,
		"Welcome!",
		"Use the code below to verify your email address.",
		code,
		humanDuration(ttl),
	)
}

// ResetPasswordTemplate renders the body of the password reset email.
func ResetPasswordTemplate(code string, ttl time.Duration) string {
	return fmt.Sprintf(codeTemplate,
		"Password reset",
		"Use the code below to set a new password.",
		code,
		humanDuration(ttl),
	)
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 && d >= time.Minute {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}
