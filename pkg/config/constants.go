package config

const EnvPrefix = "CARTSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageBackendMemory = "memory"
	StorageBackendSQL    = "sql"
	StorageBackendRedis  = "redis"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// Postgres wire drivers behind database/sql.
const (
	PGDriverPgx = "pgx"
	PGDriverPq  = "pq"
)

const (
	EnvAppEnv         = "CARTSYNC_APP_ENV"
	EnvPort           = "CARTSYNC_APP_PORT"
	EnvLogLevel       = "CARTSYNC_LOG_LEVEL"
	EnvStorageBackend = "CARTSYNC_STORAGE_BACKEND"
	EnvDBDSN          = "CARTSYNC_DB_DSN"
	EnvDBDriver       = "CARTSYNC_DB_DRIVER"
	EnvDBHost         = "CARTSYNC_DB_HOST"
	EnvDBUser         = "CARTSYNC_DB_USER"
	EnvDBName         = "CARTSYNC_DB_NAME"
	EnvRedisURL       = "CARTSYNC_REDIS_URL"
	EnvRemoteBaseURL  = "CARTSYNC_REMOTE_BASE_URL"
	EnvRemoteCartPath = "CARTSYNC_REMOTE_CART_PATH"
	EnvEngineInflight = "CARTSYNC_ENGINE_MAX_INFLIGHT"
	EnvBridgeEnabled  = "CARTSYNC_EVENTS_BRIDGE_ENABLED"
)
