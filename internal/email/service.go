// Package email sends CRM notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppName appears in subjects and message headers.
	AppName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Sales CRM"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured reports whether host, port and sender are all set.
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
}

// SendHTMLEmail sends a multipart message with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	boundary := fmt.Sprintf("crm-%d", time.Now().UnixNano())

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, textBody)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: s.config.AppName, UserName: userName, ResetURL: resetURL}
	html, err := render("password_reset", data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your password here (valid for 1 hour):\n%s\n", userName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+s.config.AppName+" password", text, html)
}

type TaskAssignedData struct {
	AppName      string
	AssigneeName string
	AssignerName string
	TaskTitle    string
	DueDate      string
	Priority     string
	TaskURL      string
}

// SendTaskAssignedEmail notifies a user that someone else assigned them a task.
func (s *Service) SendTaskAssignedEmail(to string, data TaskAssignedData) error {
	data.AppName = s.config.AppName
	html, err := render("task_assigned", data)
	if err != nil {
		return fmt.Errorf("render task assigned template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\n%s assigned you a task: %s\n", data.AssigneeName, data.AssignerName, data.TaskTitle)
	if data.DueDate != "" {
		text += "Due: " + data.DueDate + "\n"
	}
	if data.TaskURL != "" {
		text += data.TaskURL + "\n"
	}
	return s.SendHTMLEmail([]string{to}, "New task: "+data.TaskTitle, text, html)
}

var templates = template.Must(template.New("email").Parse(passwordResetTemplate + taskAssignedTemplate))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const passwordResetTemplate = `{{define "password_reset"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reset your {{.AppName}} password</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>Password reset</h2>
  <p>Hi {{.UserName}},</p>
  <p>We received a request to reset your password.</p>
  <p><a href="{{.ResetURL}}" style="display: inline-block; padding: 12px 24px; background: #1f6feb; color: #fff; text-decoration: none; border-radius: 4px;">Reset password</a></p>
  <p style="word-break: break-all;">{{.ResetURL}}</p>
  <p><strong>This link expires in 1 hour.</strong> If you did not ask for it, ignore this email.</p>
</body>
</html>{{end}}`

const taskAssignedTemplate = `{{define "task_assigned"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>New task in {{.AppName}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>{{.TaskTitle}}</h2>
  <p>Hi {{.AssigneeName}}, {{.AssignerName}} assigned you a task.</p>
  <table>
    {{if .DueDate}}<tr><td>Due</td><td>{{.DueDate}}</td></tr>{{end}}
    {{if .Priority}}<tr><td>Priority</td><td>{{.Priority}}</td></tr>{{end}}
  </table>
  {{if .TaskURL}}<p><a href="{{.TaskURL}}">Open task</a></p>{{end}}
</body>
</html>{{end}}`
