// Package authmail sends the account emails of the auth service: email
// verification, login alerts, password resets and role change requests.
// The auth service enqueues them through Producer; Worker delivers them.
package authmail

import (
	"context"
	"log/slog"

	"github.com/deepsoumya617/shoply/internal/queue"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

// Kinds carried by the auth queue.
const (
	KindVerification   queue.Kind = "send-verification-email"
	KindLogin          queue.Kind = "send-login-email"
	KindForgotPassword queue.Kind = "send-forgotPassword-email"
	KindUpdateRole     queue.Kind = "send-updateUserRole-email"
)

// TokenPayload carries a one-time token to email.
type TokenPayload struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// LoginPayload describes a successful login.
type LoginPayload struct {
	Email      string `json:"email"`
	IP         string `json:"ip"`
	DeviceInfo string `json:"deviceInfo"`
}

// UpdateRolePayload names the user asking for a role change.
type UpdateRolePayload struct {
	UserID string `json:"userId"`
}

// Producer enqueues auth emails. Each call adds a new job; the auth
// service decides when a repeat is wanted.
type Producer struct {
	producer queue.Producer
	log      *slog.Logger
}

// NewProducer creates the auth email producer.
func NewProducer(producer queue.Producer, log *slog.Logger) *Producer {
	return &Producer{producer: producer, log: log.With(logger.Scope("authmail.producer"))}
}

// Verification asks for the verify-your-email message.
func (p *Producer) Verification(ctx context.Context, email, token string) error {
	return p.enqueue(ctx, KindVerification, TokenPayload{Email: email, Token: token})
}

// Login asks for the new-login alert.
func (p *Producer) Login(ctx context.Context, email, ip, deviceInfo string) error {
	return p.enqueue(ctx, KindLogin, LoginPayload{Email: email, IP: ip, DeviceInfo: deviceInfo})
}

// ForgotPassword asks for the password reset message.
func (p *Producer) ForgotPassword(ctx context.Context, email, token string) error {
	return p.enqueue(ctx, KindForgotPassword, TokenPayload{Email: email, Token: token})
}

// UpdateRole asks the administrator to review a role change for userID.
func (p *Producer) UpdateRole(ctx context.Context, userID string) error {
	return p.enqueue(ctx, KindUpdateRole, UpdateRolePayload{UserID: userID})
}

func (p *Producer) enqueue(ctx context.Context, kind queue.Kind, payload any) error {
	if _, err := p.producer.Enqueue(ctx, queue.QueueAuth, kind, payload, queue.EnqueueOptions{}); err != nil {
		p.log.Error("failed to enqueue auth email", slog.String("kind", string(kind)), logger.Error(err))
		return err
	}
	return nil
}

// authJob is the closed set of jobs the auth worker runs.
type authJob interface {
	isAuthJob()
}

type verificationJob struct{ TokenPayload }

type loginJob struct{ LoginPayload }

type forgotPasswordJob struct{ TokenPayload }

type updateRoleJob struct{ UpdateRolePayload }

func (verificationJob) isAuthJob()   {}
func (loginJob) isAuthJob()          {}
func (forgotPasswordJob) isAuthJob() {}
func (updateRoleJob) isAuthJob()     {}

func decodeAuthJob(job *queue.Job) (authJob, error) {
	switch job.Kind {
	case KindVerification:
		var j verificationJob
		if err := job.Decode(&j.TokenPayload); err != nil {
			return nil, err
		}
		return j, nil
	case KindLogin:
		var j loginJob
		if err := job.Decode(&j.LoginPayload); err != nil {
			return nil, err
		}
		return j, nil
	case KindForgotPassword:
		var j forgotPasswordJob
		if err := job.Decode(&j.TokenPayload); err != nil {
			return nil, err
		}
		return j, nil
	case KindUpdateRole:
		var j updateRoleJob
		if err := job.Decode(&j.UpdateRolePayload); err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, queue.UnknownKind(job)
}
