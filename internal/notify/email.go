// Package notify delivers customer-facing messages. Delivery is
// fire-and-forget from the engine's point of view: a failure is surfaced to
// the caller as a soft warning and never rolls back a pending transaction.
package notify

import (
	"fmt"
	"time"

	"github.com/openwallet/ewallet-service/internal/config"
	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"
)

// Notifier is the delivery boundary consumed by the transport layer.
type Notifier interface {
	SendOTP(to, code string, ttl time.Duration) error
	SendTransactionNotice(to, reference string, amount decimal.Decimal, status string) error
}

// EmailNotifier sends over SMTP.
type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailNotifier builds the SMTP notifier from config.
func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailNotifier{dialer: dialer, from: cfg.From}
}

// SendOTP mails a verification code.
func (n *EmailNotifier) SendOTP(to, code string, ttl time.Duration) error {
	body := fmt.Sprintf(`
		<h2>Verification code</h2>
		<p>Your one-time code is <b>%s</b>.</p>
		<p>It expires in %d minutes. Do not share it with anyone.</p>
	`, code, int(ttl.Minutes()))
	return n.send(to, "Your verification code", body)
}

// SendTransactionNotice mails the outcome of a transaction.
func (n *EmailNotifier) SendTransactionNotice(to, reference string, amount decimal.Decimal, status string) error {
	body := fmt.Sprintf(`
		<h2>Transaction update</h2>
		<p>Reference: %s</p>
		<p>Amount: %s</p>
		<p>Status: %s</p>
		<p>Date: %s</p>
	`, reference, amount.StringFixed(2), status, time.Now().Format("02.01.2006 15:04:05"))
	return n.send(to, "Transaction update", body)
}

func (n *EmailNotifier) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
