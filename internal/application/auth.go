package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSessionTTL   = 24 * time.Hour
	DefaultMagicLinkTTL = 15 * time.Minute
)

type AuthService struct {
	repo         domain.AccountRepository
	mailer       domain.Mailer
	log          *logrus.Logger
	magicLinkTTL time.Duration
	now          func() time.Time
}

func NewAuthService(repo domain.AccountRepository, mailer domain.Mailer, log *logrus.Logger) *AuthService {
	return &AuthService{
		repo:         repo,
		mailer:       mailer,
		log:          log,
		magicLinkTTL: DefaultMagicLinkTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) BootstrapAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return errors.New("bootstrap admin email and password are required")
	}

	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	u, err := s.repo.CreateUser(ctx, domain.User{Email: email, Role: domain.RoleAdmin, PasswordHash: hash})
	if err != nil {
		return err
	}
	s.log.WithField("email", u.Email).Info("bootstrap admin created")

	return s.repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &u.ID, Action: "auth.bootstrap_admin", TargetType: "user", TargetKey: u.Email, Metadata: "initial admin created"})
}

func (s *AuthService) LoginWithSession(ctx context.Context, email, password string, ttl time.Duration) (domain.User, string, error) {
	u, err := s.authenticateEmailPassword(ctx, email, password)
	if err != nil {
		return domain.User{}, "", err
	}

	plain, err := s.issueSession(ctx, u, ttl)
	if err != nil {
		return domain.User{}, "", err
	}

	s.WriteAudit(ctx, &u.ID, "auth.login.session", "user", u.Email, "session login")
	return u, plain, nil
}

func (s *AuthService) LoginWithAPIToken(ctx context.Context, email, password, tokenName string, ttl *time.Duration) (domain.User, string, error) {
	u, err := s.authenticateEmailPassword(ctx, email, password)
	if err != nil {
		return domain.User{}, "", err
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return domain.User{}, "", err
	}

	var expiresAt *time.Time
	if ttl != nil {
		t := s.now().Add(*ttl)
		expiresAt = &t
	}

	_, err = s.repo.CreateAPIToken(ctx, domain.APIToken{
		UserID:    u.ID,
		Name:      defaultString(tokenName, "cli"),
		TokenHash: hash,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return domain.User{}, "", err
	}

	s.WriteAudit(ctx, &u.ID, "auth.login.api_token", "user", u.Email, "api token issued")
	return u, plain, nil
}

// RequestMagicLink mails a single-use login link rooted at baseURL. The
// address does not need an account yet; one is created on verification.
func (s *AuthService) RequestMagicLink(ctx context.Context, email, baseURL string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", domain.ErrInvalidInput)
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return err
	}
	if _, err := s.repo.CreateMagicLink(ctx, domain.MagicLink{
		Email:     email,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.magicLinkTTL),
	}); err != nil {
		return err
	}

	link := strings.TrimRight(baseURL, "/") + "/auth/magic?token=" + url.QueryEscape(plain)
	if err := s.mailer.SendMagicLink(ctx, email, link); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}

	s.WriteAudit(ctx, nil, "auth.magic.request", "user", email, "magic link issued")
	return nil
}

// VerifyMagicLink consumes the link and opens a session for its owner.
func (s *AuthService) VerifyMagicLink(ctx context.Context, token string, ttl time.Duration) (domain.User, string, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, "", domain.ErrLinkExpired
	}
	link, err := s.repo.ConsumeMagicLink(ctx, hashToken(token), s.now())
	if err != nil {
		return domain.User{}, "", err
	}

	u, err := s.repo.EnsureUser(ctx, link.Email, domain.RoleGuest)
	if err != nil {
		return domain.User{}, "", err
	}

	plain, err := s.issueSession(ctx, u, ttl)
	if err != nil {
		return domain.User{}, "", err
	}

	s.WriteAudit(ctx, &u.ID, "auth.login.magic_link", "user", u.Email, "magic link login")
	return u, plain, nil
}

func (s *AuthService) AuthenticateSession(ctx context.Context, token string) (domain.Identity, error) {
	hash := hashToken(token)
	session, err := s.repo.GetSessionByTokenHash(ctx, hash)
	if err != nil {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if session.ExpiresAt.Before(s.now()) {
		_ = s.repo.DeleteSessionByTokenHash(ctx, hash)
		return domain.Identity{}, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}

	return s.identityByUserID(ctx, session.UserID)
}

func (s *AuthService) AuthenticateBearerToken(ctx context.Context, token string) (domain.Identity, error) {
	apit, err := s.repo.GetAPITokenByTokenHash(ctx, hashToken(token))
	if err != nil {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if apit.ExpiresAt != nil && apit.ExpiresAt.Before(s.now()) {
		return domain.Identity{}, fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	}

	return s.identityByUserID(ctx, apit.UserID)
}

// Authenticate accepts either an API token or a session token.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if identity, err := s.AuthenticateBearerToken(ctx, token); err == nil {
		return identity, nil
	}
	return s.AuthenticateSession(ctx, token)
}

// Logout revokes token whether it is a session or an API token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	hash := hashToken(token)
	if err := s.repo.DeleteSessionByTokenHash(ctx, hash); err != nil {
		return err
	}
	return s.repo.DeleteAPITokenByTokenHash(ctx, hash)
}

// Require fails with ErrUnauthorized without a caller and with ErrForbidden
// when role is admin and the caller is not.
func (s *AuthService) Require(identity *domain.Identity, role string) error {
	if identity == nil || identity.UserID == 0 {
		return domain.ErrUnauthorized
	}
	if role == domain.RoleAdmin && !identity.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

func (s *AuthService) WriteAudit(ctx context.Context, actorUserID *uint, action, targetType, targetKey, metadata string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetKey:   targetKey,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.WithError(err).WithField("action", action).Warn("audit write failed")
	}
}

func (s *AuthService) ListUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListUsers(ctx, query, limit)
}

func (s *AuthService) SetUserRole(ctx context.Context, email, role string) (domain.User, error) {
	if !domain.ValidRole(role) {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: user %q", domain.ErrNotFound, email)
	}
	return s.repo.UpdateUserRole(ctx, u.ID, role)
}

func (s *AuthService) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *AuthService) issueSession(ctx context.Context, u domain.User, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	plain, hash, err := newTokenPair()
	if err != nil {
		return "", err
	}
	_, err = s.repo.CreateSession(ctx, domain.AuthSession{
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(ttl),
	})
	if err != nil {
		return "", err
	}
	return plain, nil
}

func (s *AuthService) authenticateEmailPassword(ctx context.Context, email, password string) (domain.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if u.PasswordHash == "" {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return u, nil
}

func (s *AuthService) identityByUserID(ctx context.Context, userID uint) (domain.Identity, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return domain.Identity{UserID: u.ID, Email: u.Email, Role: defaultString(u.Role, domain.RoleGuest)}, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	return input
}
