package authmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/deepsoumya617/shoply/domain/email"
	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

const (
	verificationSubject   = "Verify your email"
	loginSubject          = "Login Successful!"
	forgotPasswordSubject = "Reset Password"
	updateRoleSubject     = "Update user role"
)

// loginTimeLayout matches the UTC date format of HTTP headers.
const loginTimeLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Mailer delivers templated email.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, templateName string, data email.TemplateContext) error
}

// Worker delivers the auth emails.
type Worker struct {
	mailer     Mailer
	appURL     string
	adminEmail string
	now        func() time.Time
	log        *slog.Logger
}

// NewWorker creates the auth job handler. Links point at appURL and role
// change requests go to adminEmail.
func NewWorker(mailer Mailer, appURL, adminEmail string, log *slog.Logger) *Worker {
	return &Worker{
		mailer:     mailer,
		appURL:     appURL,
		adminEmail: adminEmail,
		now:        time.Now,
		log:        log.With(logger.Scope("authmail.worker")),
	}
}

// Handle is the queue.Handler for the auth queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	aj, err := decodeAuthJob(job)
	if err != nil {
		return err
	}

	switch j := aj.(type) {
	case verificationJob:
		return w.deliver(ctx, j.Email, verificationSubject, "verify-email", email.TemplateContext{
			"ctaUrl":   w.link("/api/auth/verify-email", "token", j.Token),
			"ctaLabel": "Verify email",
		})
	case loginJob:
		return w.deliver(ctx, j.Email, loginSubject, "login-alert", email.TemplateContext{
			"email":    j.Email,
			"device":   j.DeviceInfo,
			"ip":       j.IP,
			"time":     w.now().UTC().Format(loginTimeLayout),
			"ctaUrl":   w.appURL + "/api/auth/reset-password",
			"ctaLabel": "Reset your password",
		})
	case forgotPasswordJob:
		return w.deliver(ctx, j.Email, forgotPasswordSubject, "reset-password", email.TemplateContext{
			"ctaUrl":   w.link("/api/auth/reset-password", "token", j.Token),
			"ctaLabel": "Reset password",
		})
	case updateRoleJob:
		return w.deliver(ctx, w.adminEmail, updateRoleSubject, "update-role", email.TemplateContext{
			"userId":   j.UserID,
			"ctaUrl":   w.link("/api/users/admin/update-user-role", "userId", j.UserID),
			"ctaLabel": "Update user role",
		})
	}
	return queue.UnknownKind(job)
}

func (w *Worker) link(path, param, value string) string {
	return w.appURL + path + "?" + url.Values{param: {value}}.Encode()
}

func (w *Worker) deliver(ctx context.Context, to, subject, template string, data email.TemplateContext) error {
	if err := w.mailer.Deliver(ctx, to, subject, template, data); err != nil {
		return fmt.Errorf("send %s email: %w", template, err)
	}
	w.log.Debug("auth email sent", slog.String("template", template))
	return nil
}
