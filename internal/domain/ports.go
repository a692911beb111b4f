package domain

import (
	"context"
	"time"
)

type AccountRepository interface {
	CreateUser(ctx context.Context, value User) (User, error)
	CountUsers(ctx context.Context) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id uint) (User, error)
	EnsureUser(ctx context.Context, email, role string) (User, error)
	UpdateUserRole(ctx context.Context, id uint, role string) (User, error)
	ListUsers(ctx context.Context, query string, limit int) ([]User, error)

	CreateSession(ctx context.Context, value AuthSession) (AuthSession, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (AuthSession, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	CreateAPIToken(ctx context.Context, value APIToken) (APIToken, error)
	GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (APIToken, error)
	DeleteAPITokenByTokenHash(ctx context.Context, tokenHash string) error

	CreateMagicLink(ctx context.Context, value MagicLink) (MagicLink, error)
	// ConsumeMagicLink marks the link used and returns it; it fails with
	// ErrLinkExpired when the link is unknown, expired or already consumed.
	ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (MagicLink, error)

	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditRecord, error)
}

// Mailer delivers magic-link URLs to their recipients.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}
