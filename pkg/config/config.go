package config

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Settlement   SettlementConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.DB.TxOptions(); err != nil {
		return nil, err
	}
	if !isAllocationPolicy(cfg.Settlement.AllocationPolicy) {
		return nil, fmt.Errorf("%s must be one of %s", EnvSettlementAllocationPolicy, strings.Join(allocationPolicies, ", "))
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDILINK_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDILINK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEDILINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDILINK_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MEDILINK_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEDILINK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEDILINK_DB_DSN"`
	Driver string `envconfig:"MEDILINK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDILINK_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDILINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDILINK_DB_USER"`
	LegacyPassword string `envconfig:"MEDILINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDILINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDILINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDILINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDILINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDILINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDILINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"MEDILINK_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`

	// Isolation applies to every transaction opened through db.Client.WithTx.
	Isolation string `envconfig:"MEDILINK_DB_TX_ISOLATION" default:"read_committed"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

// TxOptions maps the configured isolation name to sql.TxOptions. A nil result
// means the driver default.
func (db DBConfig) TxOptions() (*sql.TxOptions, error) {
	switch strings.ToLower(strings.TrimSpace(db.Isolation)) {
	case "", "default":
		return nil, nil
	case "read_committed":
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}, nil
	case "repeatable_read":
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}, nil
	case "serializable":
		return &sql.TxOptions{Isolation: sql.LevelSerializable}, nil
	default:
		return nil, fmt.Errorf("%s: unsupported isolation %q", EnvDBTxIsolation, db.Isolation)
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDILINK_REDIS_URL"`
	Address      string        `envconfig:"MEDILINK_REDIS_ADDR"`
	Password     string        `envconfig:"MEDILINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDILINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDILINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDILINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDILINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDILINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDILINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MEDILINK_AUTO_MIGRATE" default:"false"`
}

type SettlementConfig struct {
	Timeout          time.Duration `envconfig:"MEDILINK_SETTLEMENT_TIMEOUT" default:"5s"`
	AllocationPolicy string        `envconfig:"MEDILINK_SETTLEMENT_ALLOCATION_POLICY" default:"retrieval"`
	NodeID           int64         `envconfig:"MEDILINK_NODE_ID" default:"1"`
}

type RateLimitConfig struct {
	Window          time.Duration `envconfig:"MEDILINK_RATE_LIMIT_WINDOW" default:"1m"`
	SettlementLimit int           `envconfig:"MEDILINK_RATE_LIMIT_SETTLEMENT_LIMIT" default:"60"`
	PurchaseLimit   int           `envconfig:"MEDILINK_RATE_LIMIT_PURCHASE_LIMIT" default:"120"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"MEDILINK_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEDILINK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MEDILINK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEDILINK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic string `envconfig:"MEDILINK_PUBSUB_SETTLEMENT_TOPIC" default:"medilink-settlement-events"`
	InventoryTopic  string `envconfig:"MEDILINK_PUBSUB_INVENTORY_TOPIC" default:"medilink-inventory-events"`

	PublishTimeout time.Duration `envconfig:"MEDILINK_PUBSUB_PUBLISH_TIMEOUT" default:"30s"`
	PublishDelay   time.Duration `envconfig:"MEDILINK_PUBSUB_PUBLISH_DELAY" default:"10ms"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MEDILINK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MEDILINK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MEDILINK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func isAllocationPolicy(value string) bool {
	for _, candidate := range allocationPolicies {
		if strings.EqualFold(strings.TrimSpace(value), candidate) {
			return true
		}
	}
	return false
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:medilink.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
