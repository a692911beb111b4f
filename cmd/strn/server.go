package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqliteadapter "github.com/jmsrsd/strn-app/internal/adapters/db/sqlite"
	httpadapter "github.com/jmsrsd/strn-app/internal/adapters/http"
	"github.com/jmsrsd/strn-app/internal/adapters/mail"
	rpcadapter "github.com/jmsrsd/strn-app/internal/adapters/rpcjson"
	"github.com/jmsrsd/strn-app/internal/application"
	"github.com/jmsrsd/strn-app/internal/config"
	"github.com/jmsrsd/strn-app/internal/eav"
	"github.com/jmsrsd/strn-app/internal/logging"
	"github.com/jmsrsd/strn-app/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

type serverOptions struct {
	addr              string
	rpcSocket         string
	dbPath            string
	application       string
	modelsPath        string
	baseURL           string
	bootstrapEmail    string
	bootstrapPassword string
	logLevel          string
	logFormat         string
	loginEvery        time.Duration
	loginBurst        int
	trustProxy        bool
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run the HTTP server and the JSON-RPC socket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address", Sources: cli.EnvVars("STRN_LISTEN")},
			&cli.StringFlag{Name: "rpc-socket", Value: defaultSocket, Usage: "JSON-RPC unix socket path", Sources: cli.EnvVars("STRN_SOCKET")},
			&cli.StringFlag{Name: "db-path", Value: "strn.db", Usage: "SQLite database path", Sources: cli.EnvVars("STRN_DB")},
			&cli.StringFlag{Name: "application", Value: "strn", Usage: "application key served by this process", Sources: cli.EnvVars("STRN_APPLICATION", "APPLICATION_KEY")},
			&cli.StringFlag{Name: "models", Usage: "YAML domain model file (built-in post model when empty)", Sources: cli.EnvVars("STRN_MODELS")},
			&cli.StringFlag{Name: "base-url", Value: defaultServer, Usage: "public URL used in magic links", Sources: cli.EnvVars("STRN_BASE_URL")},
			&cli.StringFlag{Name: "bootstrap-admin-email", Value: "admin@strn.local", Usage: "initial admin email", Sources: cli.EnvVars("STRN_ADMIN_EMAIL")},
			&cli.StringFlag{Name: "bootstrap-admin-password", Value: "admin", Usage: "initial admin password when users are empty", Sources: cli.EnvVars("STRN_ADMIN_PASSWORD")},
			&cli.StringFlag{Name: "log-level", Value: "info", Sources: cli.EnvVars("STRN_LOG_LEVEL")},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "text or json", Sources: cli.EnvVars("STRN_LOG_FORMAT")},
			&cli.DurationFlag{Name: "login-every", Value: 10 * time.Second, Usage: "refill interval of the per-client login limiter", Sources: cli.EnvVars("STRN_LOGIN_EVERY")},
			&cli.IntFlag{Name: "login-burst", Value: 5, Usage: "burst of the per-client login limiter", Sources: cli.EnvVars("STRN_LOGIN_BURST")},
			&cli.BoolFlag{Name: "trust-proxy", Usage: "take client addresses from X-Real-Ip/X-Forwarded-For", Sources: cli.EnvVars("STRN_TRUST_PROXY")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, serverOptions{
				addr:              c.String("addr"),
				rpcSocket:         c.String("rpc-socket"),
				dbPath:            c.String("db-path"),
				application:       c.String("application"),
				modelsPath:        c.String("models"),
				baseURL:           c.String("base-url"),
				bootstrapEmail:    c.String("bootstrap-admin-email"),
				bootstrapPassword: c.String("bootstrap-admin-password"),
				logLevel:          c.String("log-level"),
				logFormat:         c.String("log-format"),
				loginEvery:        c.Duration("login-every"),
				loginBurst:        c.Int("login-burst"),
				trustProxy:        c.Bool("trust-proxy"),
			})
		},
	}
}

func runServer(ctx context.Context, opts serverOptions) error {
	log, err := logging.New(opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	schema, err := config.LoadSchema(opts.modelsPath)
	if err != nil {
		return err
	}

	db, err := sqliteadapter.Open(opts.dbPath, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sqliteadapter.Close(db); err != nil {
			log.WithError(err).Warn("close database")
		}
	}()
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}
	if version, err := sqliteadapter.SchemaVersion(ctx, db); err == nil {
		log.WithFields(logrus.Fields{"db": opts.dbPath, "schema_version": version}).Info("database ready")
	}

	auth := application.NewAuthService(sqliteadapter.NewAccountRepository(db), mail.NewLogMailer(log), log)
	if err := auth.BootstrapAdmin(ctx, opts.bootstrapEmail, opts.bootstrapPassword); err != nil {
		return err
	}
	store := application.NewStoreService(eav.New(db), schema, opts.application)
	m := metrics.New()
	dispatcher := rpcadapter.NewDispatcher(store, auth, m, log, opts.baseURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := httpadapter.NewRouter(httpadapter.Options{
		Context:    ctx,
		Store:      store,
		Auth:       auth,
		RPC:        dispatcher,
		Metrics:    m,
		Log:        log,
		BaseURL:    opts.baseURL,
		LoginEvery: opts.loginEvery,
		LoginBurst: opts.loginBurst,
		TrustProxy: opts.trustProxy,
	})
	srv := &http.Server{Addr: opts.addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.ListenSocket(opts.rpcSocket, dispatcher)
	if err != nil {
		return err
	}
	defer func() {
		_ = rpcSrv.Close()
	}()
	log.WithField("socket", opts.rpcSocket).Info("json-rpc listening")

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "application": store.Application()}).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
