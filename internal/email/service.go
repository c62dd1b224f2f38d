// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-giftmanager"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// BoughtIdeaRemovedData fills the notice sent to a buyer when an idea
// they already bought is deleted from the recipient's list.
type BoughtIdeaRemovedData struct {
	AppName   string
	BuyerName string
	IdeaName  string
	ForUser   string
}

// AssignmentData fills the Secret Santa assignment notice.
type AssignmentData struct {
	AppName   string
	GiverName string
	Receiver  string
	PoolName  string
}

// SendBoughtIdeaRemoved tells a buyer that a gift idea they marked as
// bought was deleted, so they can decide what to do with the gift.
func (s *Service) SendBoughtIdeaRemoved(to, buyerName, ideaName, forUser string) error {
	data := BoughtIdeaRemovedData{
		AppName:   "Gift Manager",
		BuyerName: buyerName,
		IdeaName:  ideaName,
		ForUser:   forUser,
	}

	subject := fmt.Sprintf("A gift you bought for %s was removed", forUser)
	html, err := renderTemplate(boughtIdeaRemovedTemplate, data)
	if err != nil {
		return fmt.Errorf("render bought idea removed template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendAssignment notifies a participant of their Secret Santa draw.
func (s *Service) SendAssignment(to, giverName, receiver, poolName string) error {
	data := AssignmentData{
		AppName:   "Gift Manager",
		GiverName: giverName,
		Receiver:  receiver,
		PoolName:  poolName,
	}

	subject := fmt.Sprintf("Your Secret Santa assignment for %s", poolName)
	html, err := renderTemplate(assignmentTemplate, data)
	if err != nil {
		return fmt.Errorf("render assignment template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const boughtIdeaRemovedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #b02a37; padding-bottom: 10px; margin-bottom: 20px; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.BuyerName}},</h2>

    <p>The gift idea <strong>{{.IdeaName}}</strong> on {{.ForUser}}'s list was just removed.</p>

    <div class="warning">
        You had marked this idea as bought. The idea no longer exists, so check whether you still want to give the gift or return it.
    </div>

    <div class="footer">
        <p>You are receiving this because you marked the idea as bought in {{.AppName}}.</p>
    </div>
</body>
</html>`

const assignmentTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .receiver { font-size: 24px; font-weight: bold; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.GiverName}},</h2>

    <p>The draw for <strong>{{.PoolName}}</strong> is done. You are giving a gift to:</p>

    <p class="receiver">{{.Receiver}}</p>

    <p>Keep it secret!</p>

    <div class="footer">
        <p>Sent by {{.AppName}}.</p>
    </div>
</body>
</html>`
