package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "corpipe.db")
	v.SetDefault("database.url", "")

	// Pipeline defaults
	v.SetDefault("pipeline.store_final", true)
	v.SetDefault("pipeline.store_intermediate", false)
	v.SetDefault("pipeline.read_policy", ReadPolicyFailOpen)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.poll_interval_ms", 250)
	v.SetDefault("pipeline.default_stages", "")

	// Pulse (async job infrastructure) defaults
	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 500)
	v.SetDefault("pulse.max_jobs_per_minute", 0)

	// Document source defaults
	v.SetDefault("documents.source", SourceSQL)
	v.SetDefault("documents.index", "corpus")
	v.SetDefault("documents.doctype", "article")
	v.SetDefault("documents.field", "text")

	// Redis cache defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 86400)

	// Object store defaults
	v.SetDefault("object_store.endpoint", "localhost:9000")
	v.SetDefault("object_store.use_ssl", false)
	v.SetDefault("object_store.region", "")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "corpipe")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// BindSensitiveEnvVars explicitly binds credentials to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.url", "CORPIPE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("object_store.access_key", "CORPIPE_OBJECT_STORE_ACCESS_KEY", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("object_store.secret_key", "CORPIPE_OBJECT_STORE_SECRET_KEY", "MINIO_SECRET_KEY")
	_ = v.BindEnv("redis.addr", "CORPIPE_REDIS_ADDR", "REDIS_ADDR")
}
