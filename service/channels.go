package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Itish41/IAOMS/config"
	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/realtime"
)

var emailTemplate = template.Must(template.New("email").Parse(`
	<html>
	<body>
		<h2>{{.Heading}}</h2>
		<p>Dear {{.Name}},</p>
		<p>{{.Message}}</p>
		<ul>
			<li><strong>Document:</strong> {{.Title}}</li>
			<li><strong>Submitted by:</strong> {{.Submitter}}</li>
			<li><strong>Priority:</strong> {{.Priority}}</li>
			<li><strong>Due Date:</strong> {{.Due}}</li>
		</ul>
		<p><a href="{{.Link}}">Open the document</a></p>
	</body>
	</html>
`))

type emailView struct {
	Heading, Name, Message, Title, Submitter, Priority, Due, Link string
}

// headerSafe drops control characters so a value cannot start a new header line.
func headerSafe(v string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, v)
}

// EmailChannel sends HTML mail over SMTP with plain auth.
type EmailChannel struct {
	host     string
	port     int
	from     string
	password string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg config.SMTPConfig) *EmailChannel {
	return &EmailChannel{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		password: cfg.Password,
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) Name() models.ChannelName { return models.ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, to models.User, content models.NotificationContent) error {
	if to.Email == "" {
		return fmt.Errorf("recipient %s has no email address", to.ID)
	}
	if c.from == "" {
		return errors.New("smtp sender not configured")
	}

	subject := headerSafe(subjectPrefix(content) + ": " + content.DocumentTitle)
	due := "-"
	if content.DueDate != nil {
		due = content.DueDate.Format("January 2, 2006")
	}
	var body bytes.Buffer
	err := emailTemplate.Execute(&body, emailView{
		Heading:   subjectPrefix(content),
		Name:      to.Name,
		Message:   messageFor(content),
		Title:     content.DocumentTitle,
		Submitter: content.Submitter,
		Priority:  string(content.Priority),
		Due:       due,
		Link:      content.Link,
	})
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	message := []byte("Subject: " + mime.QEncoding.Encode("UTF-8", subject) + "\r\n" +
		"From: " + headerSafe(c.from) + "\r\n" +
		"To: " + headerSafe(to.Email) + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
		body.String())

	auth := smtp.PlainAuth("", c.from, c.password, c.host)
	addr := c.host + ":" + strconv.Itoa(c.port)
	if err := c.sendMail(addr, auth, c.from, []string{to.Email}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// PushChannel delivers to the recipient's open SSE streams.
type PushChannel struct {
	hub *realtime.Hub
}

func NewPushChannel(hub *realtime.Hub) *PushChannel {
	return &PushChannel{hub: hub}
}

func (c *PushChannel) Name() models.ChannelName { return models.ChannelPush }

func (c *PushChannel) Send(ctx context.Context, to models.User, content models.NotificationContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}
	if c.hub.SendToUser(to.ID, realtime.Event{EventType: "notification", Data: string(data)}) == 0 {
		return fmt.Errorf("recipient %s has no open stream", to.ID)
	}
	return nil
}

// WebhookChannel posts SMS or WhatsApp messages to a provider webhook.
type WebhookChannel struct {
	name   models.ChannelName
	url    string
	client *http.Client
}

func NewWebhookChannel(name models.ChannelName, url string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Name() models.ChannelName { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, to models.User, content models.NotificationContent) error {
	if to.Phone == "" {
		return fmt.Errorf("recipient %s has no phone number", to.ID)
	}

	payload := map[string]interface{}{
		"channel":     c.name,
		"to":          to.Phone,
		"message":     fmt.Sprintf("%s: %s. %s %s", subjectPrefix(content), content.DocumentTitle, messageFor(content), content.Link),
		"document_id": content.DocumentID,
		"priority":    content.Priority,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s webhook request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s webhook returned %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func subjectPrefix(content models.NotificationContent) string {
	prefix := "Document Update"
	switch content.Type {
	case models.NotificationApproval:
		prefix = "Approval Required"
	case models.NotificationReminder:
		prefix = "Reminder"
	case models.NotificationEscalation:
		prefix = "Escalation"
	}
	if content.Urgent {
		prefix = "URGENT " + prefix
	}
	return prefix
}

func messageFor(content models.NotificationContent) string {
	if content.Message != "" {
		return content.Message
	}
	switch content.Type {
	case models.NotificationApproval:
		return "A document is waiting for your approval."
	case models.NotificationReminder:
		return "A document is still waiting for your action."
	case models.NotificationEscalation:
		return "A document has been escalated to you."
	}
	return "A document you follow has changed."
}
