package notify

import (
	"fmt"
	"html"
	"time"
)

// SignupCode is the email carrying a signup verification code.
func SignupCode(to, username, code string, ttl time.Duration) Message {
	mins := minutes(ttl)
	return Message{
		To:      to,
		Subject: "Verify your email to finish signing up",
		Text:    fmt.Sprintf("Your signup verification code is: %s\n\nIt expires in %d minutes. If you did not try to sign up, ignore this email.", code, mins),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto;">
<h2>Welcome, %s!</h2>
<p>Use the code below to verify your email address:</p>
<p style="font-size: 32px; letter-spacing: 5px; font-weight: bold;">%s</p>
<p>This code expires in %d minutes. If you did not try to sign up, ignore this email.</p>
</div>`, html.EscapeString(username), code, mins),
	}
}

// TwoFactorCode is the email carrying a 2FA login code.
func TwoFactorCode(to, username, code string, ttl time.Duration) Message {
	mins := minutes(ttl)
	return Message{
		To:      to,
		Subject: "Your login verification code",
		Text:    fmt.Sprintf("Hi %s,\n\nUse this code to finish signing in:\n\n%s\n\nIt expires in %d minutes. If you did not try to sign in, reset your password.", username, code, mins),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 480px; margin: auto;">
<h2>Two-Factor Authentication</h2>
<p>Hi <strong>%s</strong>,</p>
<p>Use the code below to finish signing in:</p>
<p style="font-size: 24px; font-weight: bold;">%s</p>
<p>This code expires in %d minutes. If you did not try to sign in, reset your password.</p>
</div>`, html.EscapeString(username), code, mins),
	}
}

// PasswordResetCode is the email carrying a password reset code.
func PasswordResetCode(to, username, code string, ttl time.Duration) Message {
	mins := minutes(ttl)
	return Message{
		To:      to,
		Subject: "Your password reset code",
		Text:    fmt.Sprintf("Hi %s,\n\nYour password reset code is: %s\n\nIt expires in %d minutes.", username, code, mins),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 480px; margin: auto;">
<p>Hi <strong>%s</strong>,</p>
<p>Your password reset code is:</p>
<p style="font-size: 24px; font-weight: bold;">%s</p>
<p>This code expires in %d minutes.</p>
</div>`, html.EscapeString(username), code, mins),
	}
}

// ReuseAlert warns the account owner that a rotated refresh token was presented again.
func ReuseAlert(to, username string, at time.Time, ip, userAgent string) Message {
	when := at.UTC().Format(time.RFC1123)
	return Message{
		To:      to,
		Subject: "Security alert: unusual activity on your account",
		Text: fmt.Sprintf("Hi %s,\n\nAn old sign-in token for your account was used again at %s (IP %s, %s). "+
			"As a precaution you have been signed out. Sign in again and change your password if this was not you.",
			username, when, orUnknown(ip), orUnknown(userAgent)),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 480px; margin: auto;">
<h2>Unusual activity detected</h2>
<p>Hi <strong>%s</strong>,</p>
<p>An old sign-in token for your account was used again at %s (IP %s, %s).</p>
<p>As a precaution you have been signed out. Sign in again and change your password if this was not you.</p>
</div>`, html.EscapeString(username), when, html.EscapeString(orUnknown(ip)), html.EscapeString(orUnknown(userAgent))),
	}
}

func minutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
