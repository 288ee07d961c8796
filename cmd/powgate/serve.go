package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/layer-3/powgate/adapters/challenge"
	"github.com/layer-3/powgate/adapters/credentials"
	"github.com/layer-3/powgate/adapters/csrf"
	"github.com/layer-3/powgate/adapters/events"
	"github.com/layer-3/powgate/adapters/store"
	"github.com/layer-3/powgate/adapters/tokenizer"
	"github.com/layer-3/powgate/config"
	"github.com/layer-3/powgate/internal/httpserver"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/ports"
	"github.com/layer-3/powgate/service"
	transport "github.com/layer-3/powgate/transport/http"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the login server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"POWGATE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address to listen for connections",
				EnvVars: []string{"POWGATE_LISTEN"},
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for challenges, CSRF tokens, revocations and events",
				EnvVars: []string{"POWGATE_REDIS_URL"},
			},
			&cli.StringFlag{
				Name:    "postgres-dsn",
				Usage:   "Postgres DSN of the accounts database",
				EnvVars: []string{"POWGATE_POSTGRES_DSN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"POWGATE_LOG_LEVEL"},
			},
		},
		Action: func(appCtx *cli.Context) error {
			cfg, err := config.Load(appCtx.String("config"))
			if err != nil {
				return err
			}
			if appCtx.IsSet("listen") {
				cfg.Listen = appCtx.String("listen")
			}
			if appCtx.IsSet("redis-url") {
				cfg.Redis.URL = appCtx.String("redis-url")
			}
			if appCtx.IsSet("postgres-dsn") {
				cfg.Postgres.DSN = appCtx.String("postgres-dsn")
			}
			if appCtx.IsSet("log-level") {
				cfg.Log.Level = appCtx.String("log-level")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logutil.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			ctx := logutil.WithLogger(appCtx.Context, log)

			app, err := wire(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.close()

			router := transport.SetupRouter(app.auth, transport.RouterOptions{
				Cookies: transport.CookieOptions{
					SessionName:         cfg.Session.CookieName,
					Domain:              cfg.Session.CookieDomain,
					Secure:              cfg.Session.SecureCookies,
					TrustForwardedProto: cfg.HTTP.TrustForwardedProto,
					SessionTTL:          cfg.Session.TTL,
				},
				Logger:  log,
				Metrics: cfg.Metrics.Enabled,
			})
			return httpserver.Serve(ctx, cfg.Listen, router)
		},
	}
}

type application struct {
	auth    *service.AuthService
	closers []func() error
}

func (a *application) close() {
	// reverse order of creation
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, log zerolog.Logger) (*application, error) {
	app := &application{}
	fail := func(err error) (*application, error) {
		app.close()
		return nil, err
	}

	var (
		kv          ports.KeyValueStore
		revocations ports.RevocationStore
		publisher   message.Publisher
	)
	wmLogger := logutil.NewWatermillAdapter(log)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fail(fmt.Errorf("failed to parse redis url: %w", err))
		}
		client := redis.NewClient(opts)
		app.closers = append(app.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("failed to reach redis: %w", err))
		}

		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
		if err != nil {
			return fail(fmt.Errorf("failed to create redis publisher: %w", err))
		}
		app.closers = append(app.closers, pub.Close)

		kv = store.NewRedisStore(client)
		revocations = store.NewRedisRevocations(client)
		publisher = pub
		log.Info().Str("redis", opts.Addr).Msg("Using redis stores")
	} else {
		mem := store.NewMemoryStore(time.Minute)
		app.closers = append(app.closers, mem.Close)
		rev, err := store.NewMemoryRevocations(cfg.Session.TTL)
		if err != nil {
			return fail(err)
		}
		app.closers = append(app.closers, rev.Close)
		pub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		app.closers = append(app.closers, pub.Close)

		kv, revocations, publisher = mem, rev, pub
		log.Warn().Msg("No redis configured, state is kept in memory and lost on restart")
	}

	var accounts ports.AccountRepository
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fail(fmt.Errorf("failed to create postgres pool: %w", err))
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return fail(fmt.Errorf("failed to reach postgres: %w", err))
		}
		accounts = credentials.NewPostgresRepository(pool)
	} else {
		repo, err := credentials.NewMemoryRepository(cfg.CoreAccounts()...)
		if err != nil {
			return fail(err)
		}
		if len(cfg.Accounts) == 0 {
			log.Warn().Msg("No accounts configured, every login will be rejected")
		}
		accounts = repo
	}

	verifier, err := credentials.NewVerifier(accounts,
		credentials.NewHasher(credentials.DefaultArgon2Params),
		credentials.WithBcryptCost(cfg.Creds.BcryptCost),
	)
	if err != nil {
		return fail(err)
	}

	key, err := signingKey(cfg, log)
	if err != nil {
		return fail(err)
	}

	eventPub := events.NewWatermillPublisher(publisher)
	audit := events.NewAuditSink(log, eventPub, cfg.Audit.Buffer)
	app.closers = append(app.closers, audit.Close)

	app.auth = service.NewAuthService(service.Deps{
		Challenges: challenge.NewStore(kv,
			challenge.WithTTL(cfg.PoW.ChallengeTTL),
			challenge.WithGrace(cfg.PoW.Grace),
		),
		CSRF: csrf.NewService(kv,
			csrf.WithTTL(cfg.CSRF.TTL),
			csrf.WithSingleUse(cfg.CSRF.SingleUse),
		),
		Credentials: verifier,
		Sessions: service.NewSessionIssuer(
			tokenizer.NewJWTTokenizer(key),
			revocations,
			eventPub,
			cfg.Session.TTL,
		),
		Audit: audit,
	}, cfg.PoW.Difficulty)

	return app, nil
}

func signingKey(cfg config.Config, log zerolog.Logger) (*ecdsa.PrivateKey, error) {
	if cfg.Session.SigningKeyFile != "" {
		return tokenizer.LoadKey(cfg.Session.SigningKeyFile)
	}
	log.Warn().Msg("No signing key configured, sessions will not survive a restart")
	return tokenizer.GenerateKey()
}
