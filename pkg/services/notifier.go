package services

import (
	"context"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/config"
	"github.com/ropable/prs/pkg/models"
)

// Notifier sends best-effort email notifications. Every method returns an
// error for logging only; callers must never let a notification failure
// propagate into a core transaction.
type Notifier interface {
	// TaskAssigned notifies the assignee of a newly created or reassigned task.
	TaskAssigned(ctx context.Context, task *models.Task, assignee *models.User) error
	// ClearanceRequested notifies the assignee of a new clearance request task.
	ClearanceRequested(ctx context.Context, task *models.Task, assignee *models.User) error
	// ConditionCreated notifies the power-user group that a condition was created.
	ConditionCreated(ctx context.Context, condition *models.Condition, creator *models.User, recipients []*models.User) error
	// HarvestReport emails the accumulated action log of one harvest run.
	HarvestReport(ctx context.Context, recipients []string, actions []string) error
}

// smtpNotifier implements Notifier over SMTP.
type smtpNotifier struct {
	cfg     config.SMTPConfig
	siteURL string
	logger  *zap.Logger
}

// NewSMTPNotifier creates a Notifier from configuration.
func NewSMTPNotifier(cfg config.SMTPConfig, siteURL string, logger *zap.Logger) Notifier {
	return &smtpNotifier{cfg: cfg, siteURL: siteURL, logger: logger}
}

func (n *smtpNotifier) send(ctx context.Context, subject, text, html string, to ...string) error {
	if len(to) == 0 {
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.FromAddress); err != nil {
		return fmt.Errorf("%w: invalid from address: %v", apperrors.ErrGateway, err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", apperrors.ErrGateway, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	if html != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	}

	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(time.Duration(n.cfg.TimeoutSeconds) * time.Second),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: create mail client: %v", apperrors.ErrGateway, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: send mail: %v", apperrors.ErrGateway, err)
	}
	return nil
}

func (n *smtpNotifier) TaskAssigned(ctx context.Context, task *models.Task, assignee *models.User) error {
	subject := fmt.Sprintf("PRS referral %s - new %s task notification", task.ReferralID, task.TypeName)
	referralURL := fmt.Sprintf("%s/referrals/%s", n.siteURL, task.ReferralID)
	text := fmt.Sprintf(
		"This is an automated message to let you know that you have been assigned PRS task %s.\n"+
			"This task is attached to referral ID %s.\n", task.ID, task.ReferralID)
	html := fmt.Sprintf(
		"<p>This is an automated message to let you know that you have been assigned PRS task %s.</p>"+
			"<p>This task is attached to referral ID %s, at this URL:</p><p>%s</p>",
		task.ID, task.ReferralID, referralURL)
	return n.send(ctx, subject, text, html, assignee.Email)
}

func (n *smtpNotifier) ClearanceRequested(ctx context.Context, task *models.Task, assignee *models.User) error {
	subject := fmt.Sprintf("PRS referral %s - new clearance request notification", task.ReferralID)
	referralURL := fmt.Sprintf("%s/referrals/%s", n.siteURL, task.ReferralID)
	text := fmt.Sprintf(
		"This is an automated message to let you know that you have been assigned PRS clearance request %s.\n"+
			"This clearance request is attached to referral ID %s.\n", task.ID, task.ReferralID)
	html := fmt.Sprintf(
		"<p>This is an automated message to let you know that you have been assigned PRS clearance request %s.</p>"+
			"<p>This task is attached to referral ID %s, at this URL:</p><p>%s</p>",
		task.ID, task.ReferralID, referralURL)
	return n.send(ctx, subject, text, html, assignee.Email)
}

func (n *smtpNotifier) ConditionCreated(ctx context.Context, condition *models.Condition, creator *models.User, recipients []*models.User) error {
	subject := "PRS condition created notification"
	conditionURL := fmt.Sprintf("%s/conditions/%s", n.siteURL, condition.ID)
	text := fmt.Sprintf(
		"This is an automated message to let you know that the following condition was just created:\n"+
			"* Condition ID %s\nThe condition was created by %s.\n"+
			"This is an automatically-generated email - please do not reply.\n",
		condition.ID, creator.FullName)
	html := fmt.Sprintf(
		"<p>This is an automated message to let you know that the following condition was just created:</p>"+
			"<p><a href='%s'>Condition ID %s</a></p><p>The condition was created by %s.</p>"+
			"<p>This is an automatically-generated email - please do not reply.</p>",
		conditionURL, condition.ID, creator.FullName)

	// One message per recipient; a failure for one does not stop the rest.
	var lastErr error
	for _, u := range recipients {
		if err := n.send(ctx, subject, text, html, u.Email); err != nil {
			n.logger.Warn("condition notification failed", zap.String("email", u.Email), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (n *smtpNotifier) HarvestReport(ctx context.Context, recipients []string, actions []string) error {
	subject := fmt.Sprintf("PRS emailed referral harvest actions report (%d actions)", len(actions))
	var text string
	for _, a := range actions {
		text += a + "\n"
	}
	return n.send(ctx, subject, text, "", recipients...)
}
