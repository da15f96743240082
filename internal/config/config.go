// Package config loads launchpad settings: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import "time"

// Config is the full settings tree shared by every launchpad binary.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Feed     FeedConfig     `yaml:"feed"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Launcher LauncherConfig `yaml:"launcher"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type HTTPConfig struct {
	Port               string        `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

const (
	FeedDriverStore = "store"
	FeedDriverRedis = "redis"
)

type FeedConfig struct {
	Driver        string `yaml:"driver"`
	Stream        string `yaml:"stream"`
	Group         string `yaml:"group"`
	Consumer      string `yaml:"consumer"`
	BatchSize     int    `yaml:"batch_size"`
	RetryAttempts int    `yaml:"retry_attempts"`
	BisectOnError bool   `yaml:"bisect_on_error"`
	// MaxLen caps the Redis stream length (approximate trim). Zero keeps
	// everything.
	MaxLen          int64         `yaml:"max_len"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	BlockTimeout    time.Duration `yaml:"block_timeout"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
	ReclaimMinIdle  time.Duration `yaml:"reclaim_min_idle"`
}

const (
	BatchPolicyEach       = "each"
	BatchPolicyFirstMatch = "first_match"
)

type DispatchConfig struct {
	BatchPolicy string        `yaml:"batch_policy"`
	Concurrency int           `yaml:"concurrency"`
	LedgerLease time.Duration `yaml:"ledger_lease"`
	// SweepInterval is how often claims whose lease ran out are relaunched.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

const (
	ProviderEC2    = "ec2"
	ProviderGCE    = "gce"
	ProviderDocker = "docker"
)

type LauncherConfig struct {
	Provider string `yaml:"provider"`
	// ScriptPath is the fetch URL of the processing script. When empty it
	// is derived from the object store and ScriptKey.
	ScriptPath          string   `yaml:"script_path"`
	ScriptKey           string   `yaml:"script_key"`
	Region              string   `yaml:"region"`
	InstanceType        string   `yaml:"instance_type"`
	InstanceRoleARN     string   `yaml:"instance_role_arn"`
	ImageID             string   `yaml:"image_id"`
	KeyName             string   `yaml:"key_name"`
	AccountID           string   `yaml:"account_id"`
	SecurityGroups      []string `yaml:"security_groups"`
	Monitoring          bool     `yaml:"monitoring"`
	TerminateOnShutdown bool     `yaml:"terminate_on_shutdown"`
	CallbackURL         string   `yaml:"callback_url"`
	CallbackSecret      string   `yaml:"callback_secret"`

	GCE    GCEConfig    `yaml:"gce"`
	Docker DockerConfig `yaml:"docker"`
}

type GCEConfig struct {
	Project        string        `yaml:"project"`
	Zone           string        `yaml:"zone"`
	Network        string        `yaml:"network"`
	MaxRunDuration time.Duration `yaml:"max_run_duration"`
	Endpoint       string        `yaml:"endpoint"`
}

type DockerConfig struct {
	Host    string   `yaml:"host"`
	Network string   `yaml:"network"`
	Binds   []string `yaml:"binds"`
}

const (
	StorageLocalFS = "localfs"
	StorageS3      = "s3"
	StorageGCS     = "gcs"
)

type StorageConfig struct {
	Provider  string `yaml:"provider"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	LocalRoot string `yaml:"local_root"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
}

// Default returns the settings used when nothing is configured: an
// embedded SQLite store, the store-backed feed and a local Docker
// provisioner.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:            "launchpad",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:               "8080",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       60 * time.Second,
			RequestTimeout:     30 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Driver:     StoreDriverSQLite,
			SQLitePath: "launchpad.db",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Feed: FeedConfig{
			Driver:          FeedDriverStore,
			Stream:          "launchpad:changes",
			Group:           "dispatcher",
			Consumer:        "dispatcher-1",
			BatchSize:       1,
			RetryAttempts:   2,
			BisectOnError:   true,
			RetryBackoff:    time.Second,
			PollInterval:    time.Second,
			BlockTimeout:    5 * time.Second,
			ReclaimInterval: 30 * time.Second,
			ReclaimMinIdle:  2 * time.Minute,
		},
		Dispatch: DispatchConfig{
			BatchPolicy:   BatchPolicyEach,
			Concurrency:   4,
			LedgerLease:   5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Launcher: LauncherConfig{
			Provider:            ProviderDocker,
			ScriptKey:           "script.sh",
			InstanceType:        "512m",
			ImageID:             "alpine:3.20",
			Monitoring:          true,
			TerminateOnShutdown: true,
			GCE: GCEConfig{
				MaxRunDuration: 6 * time.Hour,
			},
		},
		Storage: StorageConfig{
			Provider:  StorageLocalFS,
			LocalRoot: "./data/objects",
		},
	}
}
