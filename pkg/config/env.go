package config

const EnvPrefix = "MEDILINK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "MEDILINK_APP_ENV"
	EnvPort     = "MEDILINK_APP_PORT"
	EnvLogLevel = "MEDILINK_LOG_LEVEL"

	EnvDBDSN         = "MEDILINK_DB_DSN"
	EnvDBDriver      = "MEDILINK_DB_DRIVER"
	EnvDBHost        = "MEDILINK_DB_HOST"
	EnvDBUser        = "MEDILINK_DB_USER"
	EnvDBName        = "MEDILINK_DB_NAME"
	EnvDBTxIsolation = "MEDILINK_DB_TX_ISOLATION"

	EnvRedisURL = "MEDILINK_REDIS_URL"

	EnvSettlementTimeout          = "MEDILINK_SETTLEMENT_TIMEOUT"
	EnvSettlementAllocationPolicy = "MEDILINK_SETTLEMENT_ALLOCATION_POLICY"
	EnvNodeID                     = "MEDILINK_NODE_ID"

	EnvCORSAllowedOrigins = "MEDILINK_CORS_ALLOWED_ORIGINS"

	EnvGCPProjectID          = "MEDILINK_GCP_PROJECT_ID"
	EnvPubSubSettlementTopic = "MEDILINK_PUBSUB_SETTLEMENT_TOPIC"
	EnvPubSubInventoryTopic  = "MEDILINK_PUBSUB_INVENTORY_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// allocationPolicies mirrors the policies understood by the stock allocator.
var allocationPolicies = []string{"retrieval", "oldest_first", "largest_first"}
