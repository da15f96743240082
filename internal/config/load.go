package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply. Placeholders of the form ${VAR}
// in the file are replaced with the environment value before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

type lookupFunc func(string) (string, bool)

// envBinder applies environment overrides and collects parse errors so one
// bad variable does not hide the next.
type envBinder struct {
	lookup lookupFunc
	errs   []error
}

func (b *envBinder) get(key string) (string, bool) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (b *envBinder) str(key string, dst *string) {
	if v, ok := b.get(key); ok {
		*dst = v
	}
}

func (b *envBinder) list(key string, dst *[]string) {
	if v, ok := b.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func (b *envBinder) integer(key string, dst *int) {
	if v, ok := b.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
}

func (b *envBinder) boolean(key string, dst *bool) {
	if v, ok := b.get(key); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = parsed
	}
}

func (b *envBinder) duration(key string, dst *time.Duration) {
	if v, ok := b.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s: %q is not a duration", key, v))
			return
		}
		*dst = d
	}
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	b := &envBinder{lookup: lookup}

	b.str("SERVICE_NAME", &cfg.Service.Name)
	b.str("LOG_LEVEL", &cfg.Service.LogLevel)
	b.str("LOG_FORMAT", &cfg.Service.LogFormat)
	b.duration("SHUTDOWN_TIMEOUT", &cfg.Service.ShutdownTimeout)

	b.str("HTTP_PORT", &cfg.HTTP.Port)
	b.duration("HTTP_REQUEST_TIMEOUT", &cfg.HTTP.RequestTimeout)
	b.list("CORS_ALLOWED_ORIGINS", &cfg.HTTP.CORSAllowedOrigins)

	b.str("STORE_DRIVER", &cfg.Store.Driver)
	b.str("DATABASE_URL", &cfg.Store.DatabaseURL)
	b.str("SQLITE_PATH", &cfg.Store.SQLitePath)

	b.str("REDIS_ADDR", &cfg.Redis.Addr)
	b.str("REDIS_PASSWORD", &cfg.Redis.Password)
	b.integer("REDIS_DB", &cfg.Redis.DB)

	b.str("FEED_DRIVER", &cfg.Feed.Driver)
	b.str("FEED_STREAM", &cfg.Feed.Stream)
	b.str("FEED_GROUP", &cfg.Feed.Group)
	b.str("FEED_CONSUMER", &cfg.Feed.Consumer)
	b.integer("FEED_BATCH_SIZE", &cfg.Feed.BatchSize)
	b.integer("FEED_RETRY_ATTEMPTS", &cfg.Feed.RetryAttempts)
	b.boolean("FEED_BISECT_ON_ERROR", &cfg.Feed.BisectOnError)
	b.duration("FEED_RETRY_BACKOFF", &cfg.Feed.RetryBackoff)
	b.duration("FEED_POLL_INTERVAL", &cfg.Feed.PollInterval)

	b.str("DISPATCH_BATCH_POLICY", &cfg.Dispatch.BatchPolicy)
	b.integer("DISPATCH_CONCURRENCY", &cfg.Dispatch.Concurrency)
	b.duration("LEDGER_LEASE", &cfg.Dispatch.LedgerLease)
	b.duration("LEDGER_SWEEP_INTERVAL", &cfg.Dispatch.SweepInterval)

	b.str("PROVIDER", &cfg.Launcher.Provider)
	b.str("SCRIPT_PATH", &cfg.Launcher.ScriptPath)
	b.str("SCRIPT_KEY", &cfg.Launcher.ScriptKey)
	b.str("REGION", &cfg.Launcher.Region)
	b.str("INSTANCE_TYPE", &cfg.Launcher.InstanceType)
	b.str("INSTANCE_ROLE_ARN", &cfg.Launcher.InstanceRoleARN)
	b.str("IMAGE_ID", &cfg.Launcher.ImageID)
	b.str("KEY_NAME", &cfg.Launcher.KeyName)
	b.str("ACCOUNT_ID", &cfg.Launcher.AccountID)
	b.list("SECURITY_GROUPS", &cfg.Launcher.SecurityGroups)
	b.str("CALLBACK_URL", &cfg.Launcher.CallbackURL)
	b.str("CALLBACK_SECRET", &cfg.Launcher.CallbackSecret)
	b.str("GCE_PROJECT", &cfg.Launcher.GCE.Project)
	b.str("GCE_ZONE", &cfg.Launcher.GCE.Zone)
	b.str("DOCKER_HOST", &cfg.Launcher.Docker.Host)
	b.str("DOCKER_NETWORK", &cfg.Launcher.Docker.Network)

	b.str("STORAGE_PROVIDER", &cfg.Storage.Provider)
	b.str("STORAGE_BUCKET", &cfg.Storage.Bucket)
	b.str("STORAGE_PREFIX", &cfg.Storage.Prefix)
	b.str("STORAGE_LOCAL_ROOT", &cfg.Storage.LocalRoot)
	b.str("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)

	return errors.Join(b.errs...)
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	default:
		add("store.driver %q is not one of postgres, sqlite", c.Store.Driver)
	}

	switch c.Feed.Driver {
	case FeedDriverStore:
	case FeedDriverRedis:
		if c.Redis.Addr == "" {
			add("redis.addr is required for the redis feed driver")
		}
		if c.Feed.Stream == "" || c.Feed.Group == "" || c.Feed.Consumer == "" {
			add("feed.stream, feed.group and feed.consumer are required for the redis feed driver")
		}
	default:
		add("feed.driver %q is not one of store, redis", c.Feed.Driver)
	}
	if c.Feed.BatchSize < 1 {
		add("feed.batch_size must be at least 1")
	}
	if c.Feed.RetryAttempts < 0 {
		add("feed.retry_attempts must not be negative")
	}

	switch c.Dispatch.BatchPolicy {
	case BatchPolicyEach, BatchPolicyFirstMatch:
	default:
		add("dispatch.batch_policy %q is not one of each, first_match", c.Dispatch.BatchPolicy)
	}
	if c.Dispatch.Concurrency < 1 {
		add("dispatch.concurrency must be at least 1")
	}
	if c.Dispatch.LedgerLease <= 0 {
		add("dispatch.ledger_lease must be positive")
	}
	if c.Dispatch.SweepInterval <= 0 || c.Dispatch.SweepInterval > c.Dispatch.LedgerLease {
		add("dispatch.sweep_interval must be positive and no longer than dispatch.ledger_lease")
	}

	switch c.Launcher.Provider {
	case ProviderEC2:
		if c.Launcher.Region == "" {
			add("launcher.region is required for the ec2 provider")
		}
	case ProviderGCE:
		if c.Launcher.GCE.Project == "" || c.Launcher.GCE.Zone == "" {
			add("launcher.gce.project and launcher.gce.zone are required for the gce provider")
		}
	case ProviderDocker:
	default:
		add("launcher.provider %q is not one of ec2, gce, docker", c.Launcher.Provider)
	}
	if c.Launcher.ImageID == "" {
		add("launcher.image_id is required")
	}
	if c.Launcher.InstanceType == "" {
		add("launcher.instance_type is required")
	}
	if c.Launcher.ScriptPath == "" && c.Launcher.ScriptKey == "" {
		add("one of launcher.script_path or launcher.script_key is required")
	}
	if c.Launcher.CallbackURL != "" && c.Launcher.CallbackSecret == "" {
		add("launcher.callback_secret is required when launcher.callback_url is set")
	}

	switch c.Storage.Provider {
	case StorageLocalFS:
		if c.Storage.LocalRoot == "" {
			add("storage.local_root is required for the localfs provider")
		}
	case StorageS3, StorageGCS:
		if c.Storage.Bucket == "" {
			add("storage.bucket is required for the %s provider", c.Storage.Provider)
		}
	default:
		add("storage.provider %q is not one of localfs, s3, gcs", c.Storage.Provider)
	}

	return errors.Join(errs...)
}
