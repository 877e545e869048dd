// Package notify sends customer notices over SMTP.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/bank-ledger/internal/config"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// NotifyMatured tells the owner that a savings account has reached maturity
// and can be withdrawn.
func (s *Sender) NotifyMatured(ctx context.Context, owner *models.Identity, sa models.SavingsAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{owner.Email}
	e.Subject = "Your savings account has matured"

	// Format email body
	body := fmt.Sprintf(
		"Hello,\n\n"+
			"Your savings account %s matured on %s.\n"+
			"Principal: %s\n"+
			"Interest earned: %s\n"+
			"Available to withdraw: %s\n",
		sa.ID, sa.MaturityAt.Format("2006-01-02"),
		formatMinor(sa.Principal), formatMinor(sa.InterestAccrued), formatMinor(sa.Payout()),
	)
	body += "\nBest regards,\nBank Ledger"
	e.Text = []byte(body)

	// Send email
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send maturity notice to %s: %v", owner.Email, err)
		return fmt.Errorf("failed to send maturity notice: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"savings_id": sa.ID,
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
	}).Infof("Email sent to %s: %s", owner.Email, e.Subject)
	return nil
}

// formatMinor renders minor units as a two-decimal amount.
func formatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
