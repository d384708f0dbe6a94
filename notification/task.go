package notification

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/zllovesuki/bmc/account"
	"github.com/zllovesuki/bmc/broker"

	"go.uber.org/zap"
)

// Mailer delivers one message to a recipient
type Mailer func(to, subject, body string) error

// NewSMTPMailer returns a Mailer sending over the given SMTP relay
func NewSMTPMailer(hostname, from string, auth smtp.Auth) Mailer {
	return func(to, subject, body string) error {
		msg := "From: " + from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"\r\n" +
			body + "\r\n"
		return smtp.SendMail(hostname, auth, from, []string{to}, []byte(msg))
	}
}

// TaskOptions contains the configuration for the notification Task
type TaskOptions struct {
	AccountManager *account.Manager
	Consumer       broker.Consumer
	Mailer         Mailer
	Logger         *zap.Logger
}

// Task consumes budget approval events and notifies the budget's owner
type Task struct {
	TaskOptions
}

// NewTask returns a new notification Task
func NewTask(option TaskOptions) (*Task, error) {
	if option.AccountManager == nil {
		return nil, fmt.Errorf("nil AccountManager is invalid")
	}
	if option.Consumer == nil {
		return nil, fmt.Errorf("nil Consumer is invalid")
	}
	if option.Mailer == nil {
		return nil, fmt.Errorf("nil Mailer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

func (t *Task) handleBudgetApproved(ctx context.Context, p *broker.BudgetApproved) {
	if p == nil {
		t.Logger.Error("Received nil BudgetApproved when processing notification")
		return
	}
	logger := t.Logger.With(
		zap.String("BudgetID", p.BudgetID),
		zap.String("AccountID", p.AccountID),
	)

	acct, err := t.AccountManager.GetByID(ctx, p.AccountID)
	if err != nil {
		logger.Error("Unable to look up account for notification",
			zap.Error(err),
		)
		return
	}
	if acct == nil {
		logger.Error("Approval notification references a missing account")
		return
	}

	subject := fmt.Sprintf("Budget %q was approved", p.BudgetTitle)
	body := fmt.Sprintf(
		"Good news!\n\n%s approved your budget %q on %s.\n",
		p.ClientName,
		p.BudgetTitle,
		p.ApprovedAt.Format("Jan 2, 2006"),
	)
	if err := t.Mailer(acct.Email, subject, body); err != nil {
		logger.Error("Unable to send approval notification",
			zap.Error(err),
		)
		return
	}
	logger.Info("Approval notification sent")
}

// HandleApprovals starts consuming approval events until ctx is cancelled
func (t *Task) HandleApprovals(ctx context.Context) error {
	aChan, err := t.Consumer.ReceiveBudgetApproved(ctx)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-aChan:
				t.handleBudgetApproved(ctx, p)
			}
		}
	}()
	return nil
}
