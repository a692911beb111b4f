package application

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jmsrsd/strn-app/internal/adapters/db/sqlite"
	"github.com/jmsrsd/strn-app/internal/config"
	"github.com/jmsrsd/strn-app/internal/eav"
	"github.com/jmsrsd/strn-app/internal/logging"
	"github.com/stretchr/testify/require"
)

type capturingMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *capturingMailer) SendMagicLink(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[email] = link
	return nil
}

func (m *capturingMailer) token(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[email]
	require.True(t, ok, "no link sent to %s", email)
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type fixture struct {
	store  *StoreService
	auth   *AuthService
	mailer *capturingMailer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "app_test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(ctx, db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mailer := &capturingMailer{}
	return fixture{
		store:  NewStoreService(eav.New(db), config.DefaultSchema(), "app"),
		auth:   NewAuthService(sqlite.NewAccountRepository(db), mailer, logging.Discard()),
		mailer: mailer,
	}
}

func hasPrefix(s, prefix string) bool { return strings.HasPrefix(s, prefix) }
