package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"pathway-backend/internal/logger"
)

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
	log         *logger.Logger
}

func NewEmailService(host, port, user, pass, from, frontendURL string, log *logger.Logger) *EmailService {
	if log == nil {
		log = logger.Nop()
	}
	devMode := host == "" || user == ""
	if devMode {
		log.Warn("email service running in dev mode, messages are logged instead of sent")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: frontendURL,
		devMode:     devMode,
		log:         log,
	}
}

func (s *EmailService) SendStreakReminderEmail(to, fullName string, currentStreak int) error {
	roadmapURL := fmt.Sprintf("%s/roadmap", s.frontendURL)
	name := strings.TrimSpace(fullName)
	if name == "" {
		name = "there"
	}
	days := "days"
	if currentStreak == 1 {
		days = "day"
	}

	subject := fmt.Sprintf("Keep your %d-day learning streak going", currentStreak)
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: linear-gradient(135deg, #0ea5e9 0%%, #22c55e 100%%); padding: 32px; text-align: center;">
      <h1 style="color: white; margin: 0; font-size: 24px; font-weight: 700;">Pathway</h1>
    </div>
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">Hi %s, your streak is at risk</h2>
      <p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 24px;">
        You have learned %d %s in a row. Spend a few minutes on your roadmap today to keep it alive.
      </p>
      <a href="%s" style="display: inline-block; background: #0ea5e9; color: white; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">
        Continue learning
      </a>
      <p style="color: #94a3b8; font-size: 12px; margin: 24px 0 0;">
        You can turn off streak reminders in your notification settings.
      </p>
    </div>
  </div>
</body>
</html>`, name, currentStreak, days, roadmapURL)

	return s.sendHTML(to, subject, body)
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		s.log.Info("dev email", "to", to, "subject", subject)
		s.log.Debug("dev email body", "body", htmlBody)
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.log.Info("email sent", "to", to, "subject", subject)
	return nil
}
