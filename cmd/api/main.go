package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/authflow"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/lockout"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/password"
	"gatehouse.org/internal/ratelimit"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/token"
	"gatehouse.org/internal/totp"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()

	var (
		db        *sql.DB
		repo      account.Repository
		tokens    token.Store
		auditSink audit.Sink = audit.NewLogSink()
	)
	if cfg.DatabaseDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		repo = account.NewPGRepository(db)
		tokens = token.NewPGStore(db)
		auditSink = audit.Fanout{audit.NewLogSink(), audit.NewPGSink(db)}
	} else {
		log.Print("no database DSN configured, using in-memory stores (development only)")
		repo = account.NewMemoryRepository()
		tokens = token.NewMemoryStore()
	}

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedis(rdb, ratelimit.DefaultConfig())
	}

	sessions, err := session.NewManager(cfg.SessionSecret, cfg.Issuer, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	issuer := token.NewIssuer(tokens,
		token.WithTTL(token.PurposeEmailVerify, cfg.VerifyTokenTTL),
		token.WithTTL(token.PurposePasswordReset, cfg.ResetTokenTTL),
	)

	svc := authflow.NewService(
		repo,
		password.Bcrypt{},
		issuer,
		totp.New(cfg.Issuer),
		authflow.WithNotifier(notify.NewLogNotifier(cfg.PublicBaseURL)),
		authflow.WithAuditSink(auditSink),
		authflow.WithRateLimiter(limiter),
		authflow.WithLockoutPolicy(lockout.Policy{
			MaxFailedAttempts: cfg.MaxFailedAttempts,
			LockoutDuration:   cfg.LockoutDuration,
		}),
	)

	bootstrapAdmin(svc)

	api := httpapi.New(svc, sessions, httpapi.Options{
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
		Limiter:      limiter,
		DevTokenEcho: cfg.DevTokenEcho,

		RequestBurst:      cfg.HTTPRateBurst,
		RequestsPerSecond: cfg.HTTPRatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// bootstrapAdmin ensures the configured admin account exists. Controlled by
// GATEHOUSE_ADMIN_EMAIL / GATEHOUSE_ADMIN_PASSWORD; an existing account is
// left untouched.
func bootstrapAdmin(svc *authflow.Service) {
	email := os.Getenv("GATEHOUSE_ADMIN_EMAIL")
	pass := os.Getenv("GATEHOUSE_ADMIN_PASSWORD")
	if email == "" || pass == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := svc.CreateAdmin(ctx, email, pass)
	switch {
	case err == nil:
		log.Printf("bootstrap admin %s created", email)
	case errors.Is(err, account.ErrEmailTaken):
		// already provisioned
	default:
		log.Fatalf("bootstrap admin: %v", err)
	}
}
