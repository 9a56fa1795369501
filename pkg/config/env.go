package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// applyEnv overrides file values with SAXO_* environment variables.
func applyEnv(c *Config) {
	c.Environment = Environment(getEnv("SAXO_ENVIRONMENT", string(c.Environment)))
	c.ClientID = getEnv("SAXO_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnv("SAXO_CLIENT_SECRET", c.ClientSecret)
	c.RedirectURI = getEnv("SAXO_REDIRECT_URI", c.RedirectURI)
	c.AuthEndpoint = getEnv("SAXO_AUTH_ENDPOINT", c.AuthEndpoint)
	c.TokenEndpoint = getEnv("SAXO_TOKEN_ENDPOINT", c.TokenEndpoint)
	c.BaseURL = getEnv("SAXO_BASE_URL", c.BaseURL)
	c.Scope = getEnv("SAXO_SCOPE", c.Scope)

	c.TokenStore.Type = getEnv("SAXO_TOKEN_STORE", c.TokenStore.Type)
	c.TokenStore.Path = getEnv("SAXO_TOKEN_FILE", c.TokenStore.Path)
	c.TokenStore.RedisAddr = getEnv("SAXO_REDIS_ADDR", c.TokenStore.RedisAddr)
	c.TokenStore.RedisPassword = getEnv("SAXO_REDIS_PASSWORD", c.TokenStore.RedisPassword)
	c.TokenStore.RedisDB = getEnvInt("SAXO_REDIS_DB", c.TokenStore.RedisDB)
	c.TokenStore.RedisKey = getEnv("SAXO_REDIS_KEY", c.TokenStore.RedisKey)
	c.TokenStore.EncryptionKey = getEnv("SAXO_TOKEN_ENCRYPTION_KEY", c.TokenStore.EncryptionKey)

	c.RefreshInterval = getEnvDuration("SAXO_REFRESH_INTERVAL", c.RefreshInterval)
	c.RefreshRequiresVerifier = getEnvBool("SAXO_REFRESH_REQUIRES_VERIFIER", c.RefreshRequiresVerifier)
	c.HTTPTimeout = getEnvDuration("SAXO_HTTP_TIMEOUT", c.HTTPTimeout)
	c.ListenAddr = getEnv("SAXO_LISTEN_ADDR", c.ListenAddr)
	c.PollCeiling = getEnvDuration("SAXO_POLL_CEILING", c.PollCeiling)
	c.MisfireGrace = getEnvDuration("SAXO_MISFIRE_GRACE", c.MisfireGrace)
	c.APIRateLimit = getEnvFloat("SAXO_API_RATE_LIMIT", c.APIRateLimit)
	c.APIRateBurst = getEnvInt("SAXO_API_RATE_BURST", c.APIRateBurst)

	c.LogLevel = getEnv("SAXO_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("SAXO_LOG_FORMAT", c.LogFormat)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("invalid duration, using default")
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("invalid integer, using default")
		return fallback
	}
	return i
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("invalid float, using default")
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("invalid boolean, using default")
		return fallback
	}
	return b
}
