package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmsrsd/strn-app/internal/domain"
)

func openTestDB(t *testing.T) *AccountRepository {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "strn_test.db")

	db, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewAccountRepository(db)
}

func TestEnsureUserKeepsExistingRole(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	admin, err := repo.CreateUser(ctx, domain.User{Email: " Admin@Example.com ", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if admin.Email != "admin@example.com" {
		t.Fatalf("expected normalized email, got %q", admin.Email)
	}

	same, err := repo.EnsureUser(ctx, "admin@example.com", domain.RoleGuest)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if same.ID != admin.ID || same.Role != domain.RoleAdmin {
		t.Fatalf("expected existing admin, got %+v", same)
	}

	guest, err := repo.EnsureUser(ctx, "reader@example.com", "")
	if err != nil {
		t.Fatalf("ensure guest: %v", err)
	}
	if guest.Role != domain.RoleGuest {
		t.Fatalf("expected guest role, got %q", guest.Role)
	}

	count, err := repo.CountUsers(ctx)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 users, got %d", count)
	}
}

func TestConsumeMagicLinkOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	now := time.Now().UTC()

	if _, err := repo.CreateMagicLink(ctx, domain.MagicLink{Email: "reader@example.com", TokenHash: "live", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("create link: %v", err)
	}
	if _, err := repo.CreateMagicLink(ctx, domain.MagicLink{Email: "reader@example.com", TokenHash: "stale", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("create stale link: %v", err)
	}

	link, err := repo.ConsumeMagicLink(ctx, "live", now)
	if err != nil {
		t.Fatalf("consume link: %v", err)
	}
	if link.Email != "reader@example.com" || link.ConsumedAt == nil {
		t.Fatalf("unexpected link: %+v", link)
	}

	if _, err := repo.ConsumeMagicLink(ctx, "live", now); !errors.Is(err, domain.ErrLinkExpired) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}
	if _, err := repo.ConsumeMagicLink(ctx, "stale", now); !errors.Is(err, domain.ErrLinkExpired) {
		t.Fatalf("expected stale link to fail, got %v", err)
	}
	if _, err := repo.ConsumeMagicLink(ctx, "unknown", now); !errors.Is(err, domain.ErrLinkExpired) {
		t.Fatalf("expected unknown link to fail, got %v", err)
	}
}

func TestAuditLogsCarryActorEmail(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	user, err := repo.CreateUser(ctx, domain.User{Email: "editor@example.com", Role: domain.RoleGuest})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &user.ID, Action: "text.set", TargetType: "attribute", TargetKey: "post/p1/title"}); err != nil {
		t.Fatalf("create audit: %v", err)
	}
	if err := repo.CreateAuditLog(ctx, domain.AuditLog{Action: "auth.magic.request", TargetType: "user", TargetKey: "x@example.com"}); err != nil {
		t.Fatalf("create anonymous audit: %v", err)
	}

	logs, err := repo.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(logs))
	}
	if logs[0].Action != "auth.magic.request" || logs[0].ActorUserEmail != "" {
		t.Fatalf("expected newest anonymous row first, got %+v", logs[0])
	}
	if logs[1].ActorUserEmail != "editor@example.com" || logs[1].TargetKey != "post/p1/title" {
		t.Fatalf("unexpected audit row: %+v", logs[1])
	}
}

func TestMigrationsReportVersion(t *testing.T) {
	repo := openTestDB(t)
	version, err := SchemaVersion(context.Background(), repo.db)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected applied migrations, got version %d", version)
	}
}

func TestCloseCheckpointsWAL(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "close_test.db")

	db, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := NewAccountRepository(db).EnsureUser(ctx, "wal@example.com", domain.RoleGuest); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if err := Close(db); err != nil {
		t.Fatalf("close: %v", err)
	}
	if info, err := os.Stat(dbPath + "-wal"); err == nil && info.Size() > 0 {
		t.Fatalf("expected an empty wal after close, got %d bytes", info.Size())
	}
	if err := db.Exec("SELECT 1").Error; err == nil {
		t.Fatal("expected queries to fail after close")
	}

	reopened, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = Close(reopened) }()
	u, err := NewAccountRepository(reopened).GetUserByEmail(ctx, "wal@example.com")
	if err != nil {
		t.Fatalf("find user after reopen: %v", err)
	}
	if u.Role != domain.RoleGuest {
		t.Fatalf("expected guest role, got %q", u.Role)
	}
}
