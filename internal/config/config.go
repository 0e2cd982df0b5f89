// Package config loads runtime settings from the environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the API, authorizer and local server.
type Config struct {
	DevMode  bool
	LogLevel string

	// InMemoryStore swaps DynamoDB for the in-process store. Only honoured in DevMode.
	InMemoryStore bool

	MemoriesTable  string
	UserIDIndex    string
	DynamoEndpoint string

	AttachmentsBucket   string
	SignedURLExpiration time.Duration
	S3Endpoint          string

	JWKSURL        string
	JWKSCacheTTL   time.Duration
	JWKSMinRefresh time.Duration
	JWKSTimeout    time.Duration
	TokenIssuer    string
	TokenAudience  string
	TokenClockSkew time.Duration

	KMSKeyID                string
	OriginVerifySecretParam string
	FrontendURL             string

	RequestTimeout   time.Duration
	RetryMaxAttempts int
}

// Load reads the configuration from environment variables, falling back to
// development defaults for anything unset.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("dev_mode", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("in_memory_store", false)
	v.SetDefault("memories_table", "Memories")
	v.SetDefault("user_id_index", "UserIdIndex")
	v.SetDefault("dynamodb_endpoint", "")
	v.SetDefault("attachments_bucket", "memories-attachments")
	// Seconds, as in the serverless environment block.
	v.SetDefault("signed_url_expiration", 300)
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("jwks_url", "")
	v.SetDefault("jwks_cache_ttl", "10m")
	v.SetDefault("jwks_min_refresh", "30s")
	v.SetDefault("jwks_timeout", "5s")
	v.SetDefault("token_issuer", "")
	v.SetDefault("token_audience", "")
	v.SetDefault("token_clock_skew", "0s")
	v.SetDefault("kms_key_id", "alias/memories-cursor-key")
	v.SetDefault("origin_verify_secret_param", "/memories/origin-verify-secret")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("retry_max_attempts", 3)

	cfg := &Config{
		DevMode:                 v.GetBool("dev_mode"),
		LogLevel:                strings.ToLower(v.GetString("log_level")),
		InMemoryStore:           v.GetBool("in_memory_store"),
		MemoriesTable:           v.GetString("memories_table"),
		UserIDIndex:             v.GetString("user_id_index"),
		DynamoEndpoint:          v.GetString("dynamodb_endpoint"),
		AttachmentsBucket:       v.GetString("attachments_bucket"),
		SignedURLExpiration:     time.Duration(v.GetInt("signed_url_expiration")) * time.Second,
		S3Endpoint:              v.GetString("s3_endpoint"),
		JWKSURL:                 v.GetString("jwks_url"),
		JWKSCacheTTL:            v.GetDuration("jwks_cache_ttl"),
		JWKSMinRefresh:          v.GetDuration("jwks_min_refresh"),
		JWKSTimeout:             v.GetDuration("jwks_timeout"),
		TokenIssuer:             v.GetString("token_issuer"),
		TokenAudience:           v.GetString("token_audience"),
		TokenClockSkew:          v.GetDuration("token_clock_skew"),
		KMSKeyID:                v.GetString("kms_key_id"),
		OriginVerifySecretParam: v.GetString("origin_verify_secret_param"),
		FrontendURL:             v.GetString("frontend_url"),
		RequestTimeout:          v.GetDuration("request_timeout"),
		RetryMaxAttempts:        v.GetInt("retry_max_attempts"),
	}

	if !cfg.DevMode {
		cfg.InMemoryStore = false
	}
	if cfg.JWKSURL == "" && cfg.TokenIssuer != "" {
		cfg.JWKSURL = strings.TrimSuffix(cfg.TokenIssuer, "/") + "/.well-known/jwks.json"
	}

	return cfg
}
