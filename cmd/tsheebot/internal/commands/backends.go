package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/archive"
	"github.com/parusinf/timesheets-parus-bot/internal/certs"
	"github.com/parusinf/timesheets-parus-bot/internal/client"
	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/directory/pooled"
	"github.com/parusinf/timesheets-parus-bot/internal/directory/proxy"
	"github.com/parusinf/timesheets-parus-bot/internal/pgpool"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	memorystore "github.com/parusinf/timesheets-parus-bot/internal/store/memory"
	postgresstore "github.com/parusinf/timesheets-parus-bot/internal/store/postgres"
	redisstore "github.com/parusinf/timesheets-parus-bot/internal/store/redis"
	sqlitestore "github.com/parusinf/timesheets-parus-bot/internal/store/sqlite"
	"github.com/parusinf/timesheets-parus-bot/internal/tenant"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ProxyFlags configures the HTTP directory proxy.
type ProxyFlags struct {
	URL      string        `help:"directory proxy base URL" default:"" env:"TSHEEBOT_PROXY_URL"`
	Token    string        `help:"directory proxy access token" default:"" env:"TSHEEBOT_PROXY_TOKEN"`
	Timeout  time.Duration `help:"directory proxy request timeout" default:"30s" env:"TSHEEBOT_PROXY_TIMEOUT"`
	CacheDir string        `help:"directory for cached proxy responses (memory when empty)" default:"" env:"TSHEEBOT_PROXY_CACHE_DIR"`

	CACert     string `name:"ca-cert" help:"path to the proxy CA certificate" default:"" env:"TSHEEBOT_PROXY_CA_CERT"`
	ClientCert string `help:"path to the client certificate for mutual TLS" default:"" env:"TSHEEBOT_PROXY_CLIENT_CERT"`
	ClientKey  string `help:"path to the client key for mutual TLS" default:"" env:"TSHEEBOT_PROXY_CLIENT_KEY"`
}

func (p *ProxyFlags) check() error {
	if p.URL == "" {
		return errors.New("directory proxy URL is required (--proxy-url or TSHEEBOT_PROXY_URL)")
	}
	if p.Token == "" {
		return errors.New("directory proxy token is required (--proxy-token or TSHEEBOT_PROXY_TOKEN)")
	}
	return nil
}

// PostgresFlags configures the PostgreSQL identity cache.
type PostgresFlags struct {
	ConnString  string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	MaxConns    int32  `help:"maximum number of connections in pool" default:"10"`
	MinConns    int32  `help:"minimum number of connections in pool" default:"1"`
	AutoMigrate bool   `help:"run database migrations on startup" default:"false" env:"TSHEEBOT_POSTGRES_AUTO_MIGRATE"`
}

// RedisFlags configures the Redis session store.
type RedisFlags struct {
	Addrs    []string `help:"Redis addresses" default:"localhost:6379" env:"TSHEEBOT_REDIS_ADDRS"`
	Username string   `help:"Redis username" default:"" env:"TSHEEBOT_REDIS_USERNAME"`
	Password string   `help:"Redis password" default:"" env:"TSHEEBOT_REDIS_PASSWORD"`
	DB       int      `name:"db" help:"Redis database number" default:"0" env:"TSHEEBOT_REDIS_DB"`
}

// ArchiveFlags configure the optional S3 report archive.
type ArchiveFlags struct {
	S3Bucket    string `name:"s3-bucket" help:"S3 bucket receiving exchanged reports; empty disables the archive" default:"" env:"TSHEEBOT_ARCHIVE_S3_BUCKET"`
	S3Prefix    string `name:"s3-prefix" help:"object key prefix" default:"reports" env:"TSHEEBOT_ARCHIVE_S3_PREFIX"`
	S3Region    string `name:"s3-region" help:"AWS region; defaults to the SDK credential chain" default:"" env:"TSHEEBOT_ARCHIVE_S3_REGION"`
	S3Endpoint  string `name:"s3-endpoint" help:"custom endpoint for S3-compatible storage" default:"" env:"TSHEEBOT_ARCHIVE_S3_ENDPOINT"`
	S3PathStyle bool   `name:"s3-path-style" help:"use path-style addressing" default:"false" env:"TSHEEBOT_ARCHIVE_S3_PATH_STYLE"`
}

func (c *ServeCmd) openArchive(ctx context.Context) (archive.Archive, error) {
	if c.Archive.S3Bucket == "" {
		return nil, nil
	}

	a, err := archive.NewS3(ctx, archive.S3Config{
		Bucket:    c.Archive.S3Bucket,
		Prefix:    c.Archive.S3Prefix,
		Region:    c.Archive.S3Region,
		Endpoint:  c.Archive.S3Endpoint,
		PathStyle: c.Archive.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure report archive: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("bucket", c.Archive.S3Bucket).Str("prefix", c.Archive.S3Prefix).Msg("Archiving exchanged reports to S3")
	return a, nil
}

func (c *ServeCmd) openDirectory(ctx context.Context) (directory.Client, error) {
	log := zerolog.Ctx(ctx)

	switch c.Directory {
	case "proxy":
		if err := c.Proxy.check(); err != nil {
			return nil, err
		}

		cfg := client.Config{Timeout: c.Proxy.Timeout, CacheDir: c.Proxy.CacheDir}
		certCfg := certs.Config{
			CACertPath:     c.Proxy.CACert,
			ClientCertPath: c.Proxy.ClientCert,
			ClientKeyPath:  c.Proxy.ClientKey,
		}
		if certCfg.Enabled() {
			loaded, err := certs.Load(certCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to load proxy certificates: %w", err)
			}
			if cfg.TLS, err = loaded.TLSConfig(); err != nil {
				return nil, fmt.Errorf("failed to build proxy TLS config: %w", err)
			}
		}

		log.Info().Str("url", c.Proxy.URL).Bool("mtls", certCfg.Enabled()).Msg("Using directory proxy")
		return proxy.New(c.Proxy.URL, c.Proxy.Token, client.NewCachingHTTPClient(cfg)), nil

	default:
		reg, err := tenant.Load(c.Tenants)
		if err != nil {
			return nil, err
		}
		log.Info().Strs("tenants", reg.Keys()).Msg("Loaded tenant registry")
		return pooled.Connect(ctx, reg, c.AcquireTimeout), nil
	}
}

type identityCache struct {
	orgs  store.OrganizationStore
	users store.UserStore
	close func()
}

func (c *ServeCmd) openIdentityCache(ctx context.Context) (*identityCache, error) {
	log := zerolog.Ctx(ctx)

	switch c.Cache {
	case "postgres":
		poolCfg := &pgpool.Config{
			ConnString: c.PostgresCache.ConnString,
			MaxConns:   c.PostgresCache.MaxConns,
			MinConns:   c.PostgresCache.MinConns,
		}
		pool, err := pgpool.New(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if c.PostgresCache.AutoMigrate {
			if err := postgresstore.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		log.Info().Msg("Using PostgreSQL identity cache")
		return &identityCache{
			orgs:  postgresstore.NewOrganizationStore(pool),
			users: postgresstore.NewUserStore(pool),
			close: pool.Close,
		}, nil

	case "memory":
		log.Warn().Msg("Using in-memory identity cache, cached identities are lost on restart")
		return &identityCache{
			orgs:  memorystore.NewOrganizationStore(),
			users: memorystore.NewUserStore(),
			close: func() {},
		}, nil

	default:
		db, err := sqlitestore.Open(c.SQLitePath)
		if err != nil {
			return nil, err
		}

		log.Info().Str("path", c.SQLitePath).Msg("Using SQLite identity cache")
		return &identityCache{
			orgs:  db.Organizations(),
			users: db.Users(),
			close: func() {
				if err := db.Close(); err != nil {
					log.Error().Err(err).Msg("Failed to close SQLite identity cache")
				}
			},
		}, nil
	}
}

type sessionStore struct {
	store store.SessionStore
	close func()
}

func (c *ServeCmd) openSessions(ctx context.Context) (*sessionStore, error) {
	log := zerolog.Ctx(ctx)

	switch c.Sessions {
	case "redis":
		rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    c.Redis.Addrs,
			Username: c.Redis.Username,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		st, err := redisstore.NewSessionStore(rdb, c.SessionTTL)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}

		log.Info().Strs("addrs", c.Redis.Addrs).Msg("Using Redis session store")
		return &sessionStore{
			store: st,
			close: func() {
				st.Close()
				if err := rdb.Close(); err != nil {
					log.Error().Err(err).Msg("Failed to close redis client")
				}
			},
		}, nil

	default:
		st := memorystore.NewSessionStore(c.SessionTTL)
		janitor := store.NewJanitor(ctx, st, time.Minute)

		log.Info().Dur("ttl", c.SessionTTL).Msg("Using in-memory session store")
		return &sessionStore{store: st, close: janitor.Stop}, nil
	}
}
