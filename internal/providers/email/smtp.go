package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/notifier/pkg/telemetry/correlation"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg Config
	now func() time.Time
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, now: time.Now}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{}, err
	}
	to := recipients(msg.To)

	fromAddr, err := mail.ParseAddress(p.cfg.From)
	if err != nil {
		return SendResult{}, fmt.Errorf("smtp from address: %w", err)
	}
	messageID := newMessageID(domainOf(fromAddr.Address))
	body := p.buildMessage(fromAddr, to, msg, messageID)

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return SendResult{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return SendResult{}, err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return SendResult{}, err
		}
	}
	if p.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)); err != nil {
				return SendResult{}, err
			}
		}
	}
	if err := client.Mail(fromAddr.Address); err != nil {
		return SendResult{}, err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return SendResult{}, err
		}
	}
	w, err := client.Data()
	if err != nil {
		return SendResult{}, err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return SendResult{}, err
	}
	if err := w.Close(); err != nil {
		return SendResult{}, err
	}
	if err := client.Quit(); err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: messageID, Provider: p.Name()}, nil
}

func (p *SMTPProvider) buildMessage(from *mail.Address, to []string, msg Message, messageID string) []byte {
	sender := *from
	if name := strings.TrimSpace(msg.FromName); name != "" {
		sender.Name = name
	}

	var b bytes.Buffer
	writeHeader(&b, "From", sender.String())
	writeHeader(&b, "To", strings.Join(to, ", "))
	if replyTo := strings.TrimSpace(msg.ReplyTo); replyTo != "" {
		writeHeader(&b, "Reply-To", replyTo)
	}
	writeHeader(&b, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&b, "Date", p.now().UTC().Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", messageID)
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", `text/html; charset="UTF-8"`)
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes()
}

func writeHeader(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "notifier.local"
}

func newMessageID(domain string) string {
	return correlation.NewMessageID(domain)
}
