package alerts

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mr-karan/promalert/internal/template"
	"github.com/mr-karan/promalert/pkg/models"
)

// DefaultEmailSubject is used when a template leaves the subject empty.
const DefaultEmailSubject = "【{level_display}】{rule_name} 告警通知"

type EmailSenderOptions struct {
	Timeout       time.Duration
	SkipTLSVerify bool
	Logger        *slog.Logger
}

// EmailSender delivers the email channel over SMTP.
type EmailSender struct {
	timeout       time.Duration
	skipTLSVerify bool
	readFile      func(string) ([]byte, error)
	logger        *slog.Logger
}

// EmailMessage is a rendered email.
type EmailMessage struct {
	Params  models.EmailParams
	Subject string
	Body    string
	HTML    bool
}

func (EmailMessage) Channel() models.ChannelType { return models.ChannelEmail }

func NewEmailSender(opts EmailSenderOptions) *EmailSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSender{
		timeout:       timeout,
		skipTLSVerify: opts.SkipTLSVerify,
		readFile:      os.ReadFile,
		logger:        logger.With("component", "alert_email_sender"),
	}
}

func (s *EmailSender) Type() models.ChannelType { return models.ChannelEmail }

// Render fills the subject and content placeholders. Without content the
// built-in HTML summary is used.
func (s *EmailSender) Render(params models.ChannelParams, actx AlertContext) (Payload, error) {
	p, ok := params.(models.EmailParams)
	if !ok {
		return nil, fmt.Errorf("email channel got %T params", params)
	}
	vars := actx.Vars()

	subject := p.Subject
	if strings.TrimSpace(subject) == "" {
		subject = DefaultEmailSubject
	}
	body := template.Render(p.Content, vars)
	if strings.TrimSpace(p.Content) == "" {
		body = defaultEmailBody(actx)
	}

	return &EmailMessage{
		Params:  p,
		Subject: template.Render(subject, vars),
		Body:    body,
		HTML:    strings.Contains(body, "<") && strings.Contains(body, ">"),
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, payload Payload) DeliveryResult {
	msg, ok := payload.(*EmailMessage)
	if !ok {
		return failedResult(models.ChannelEmail, "email channel got %T payload", payload)
	}

	raw, err := s.buildMessage(msg)
	if err != nil {
		return failedResult(models.ChannelEmail, "building message: %v", err)
	}

	recipients := append(append([]string{}, msg.Params.To...), msg.Params.CC...)
	if err := s.sendEmail(ctx, msg.Params, recipients, raw); err != nil {
		s.logger.Error("error sending email", "host", msg.Params.SMTPHost, "subject", msg.Subject, "error", err)
		return failedResult(models.ChannelEmail, "%v", err)
	}

	s.logger.Info("email sent", "subject", msg.Subject, "recipients", recipients)
	return DeliveryResult{Channel: models.ChannelEmail, Success: true, Message: "email sent"}
}

// buildMessage encodes msg as multipart/mixed with the body first and any
// readable attachments after it. Missing attachments are skipped.
func (s *EmailSender) buildMessage(msg *EmailMessage) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []string{
		"From: " + msg.Params.From,
		"To: " + strings.Join(msg.Params.To, ","),
	}
	if len(msg.Params.CC) > 0 {
		headers = append(headers, "Cc: "+strings.Join(msg.Params.CC, ","))
	}
	headers = append(headers,
		"Subject: "+mime.BEncoding.Encode("UTF-8", msg.Subject),
		"Date: "+time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", mw.Boundary()),
	)
	head := strings.Join(headers, "\r\n") + "\r\n\r\n"

	contentType := "text/plain; charset=\"UTF-8\""
	if msg.HTML {
		contentType = "text/html; charset=\"UTF-8\""
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	for _, path := range msg.Params.Attachments {
		data, err := s.readFile(path)
		if err != nil {
			s.logger.Warn("skipping attachment", "path", path, "error", err)
			continue
		}
		name := filepath.Base(path)
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"application/octet-stream"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, data); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(head), buf.Bytes()...), nil
}

// writeBase64Lines writes data as base64 wrapped at 76 columns.
func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := w.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := w.Write([]byte(enc + "\r\n"))
	return err
}

func (s *EmailSender) sendEmail(ctx context.Context, p models.EmailParams, recipients []string, message []byte) error {
	client, err := s.connect(ctx, p)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(p.From); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (s *EmailSender) connect(ctx context.Context, p models.EmailParams) (*smtp.Client, error) {
	address := net.JoinHostPort(p.SMTPHost, fmt.Sprint(p.SMTPPort))
	dialer := &net.Dialer{Timeout: s.timeout}
	var (
		conn net.Conn
		err  error
	)
	if p.SSL {
		tlsConfig := &tls.Config{ServerName: p.SMTPHost, InsecureSkipVerify: s.skipTLSVerify} // #nosec G402
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	client, err := smtp.NewClient(conn, p.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if p.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, fmt.Errorf("smtp server does not support STARTTLS")
		}
		tlsConfig := &tls.Config{ServerName: p.SMTPHost, InsecureSkipVerify: s.skipTLSVerify} // #nosec G402
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	if p.RequireAuth {
		if !p.SSL && !p.StartTLS {
			s.logger.Warn("smtp credentials sent without tls", "host", p.SMTPHost)
		}
		if err := client.Auth(plainAuth{username: p.User, password: p.Password}); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// plainAuth is AUTH PLAIN without smtp.PlainAuth's TLS requirement.
type plainAuth struct {
	username, password string
}

func (a plainAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected smtp auth challenge")
	}
	return nil, nil
}

func defaultEmailBody(actx AlertContext) string {
	var b strings.Builder
	b.WriteString("<html><body>\n<h2>告警通知</h2>\n<table>\n")
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "<tr><td><strong>%s</strong></td><td>%s</td></tr>\n", label, html.EscapeString(value))
	}
	row("规则名称", actx.RuleName)
	row("告警等级", actx.LevelDisplay)
	row("组件分组", actx.Category)
	row("触发条件", actx.Condition)
	row("当前值", FormatValue(actx.Value))
	row("触发时间", actx.TriggerTime.Format(TriggerTimeLayout))
	row("规则描述", actx.Description)
	keys := make([]string, 0, len(actx.Labels))
	for k := range actx.Labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if strings.HasPrefix(k, "__") {
			continue
		}
		row(k, actx.Labels[k])
	}
	b.WriteString("</table>\n</body></html>\n")
	return b.String()
}
