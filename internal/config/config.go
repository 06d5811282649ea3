package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // durations for hold windows and token lifetimes
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The hold windows intentionally stay two
// separate knobs: the pre-checkout staging hold and the claim/checkout hold
// are distinct call sites with distinct deadlines, not different states.
type Config struct {
	Env             string        // application environment (e.g. "dev", "prod")
	Port            string        // HTTP port to listen on
	DBUser          string        // database username
	DBPass          string        // database password (optional)
	DBHost          string        // database host address
	DBPort          string        // database port number
	DBName          string        // database name
	TokenSecret     string        // secret used to sign bearer credentials
	RedemptionTTL   time.Duration // lifetime of the post-code-verification token
	SessionTTL      time.Duration // lifetime of the session token and email binding
	StageHoldWindow time.Duration // hold window for pre-checkout staging
	ClaimHoldWindow time.Duration // hold window for claim/checkout
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  Durations are
// expressed in minutes to keep deployment manifests simple.
func Load() Config {
	return Config{
		Env:             must("APP_ENV"),
		Port:            must("APP_PORT"),
		DBUser:          must("DB_USER"),
		DBPass:          os.Getenv("DB_PASS"), // empty allowed
		DBHost:          must("DB_HOST"),
		DBPort:          must("DB_PORT"),
		DBName:          must("DB_NAME"),
		TokenSecret:     must("TOKEN_SECRET"),
		RedemptionTTL:   minutes("REDEMPTION_TOKEN_TTL_MIN", 10),
		SessionTTL:      minutes("SESSION_TOKEN_TTL_MIN", 120),
		StageHoldWindow: minutes("STAGE_HOLD_TTL_MIN", 15),
		ClaimHoldWindow: minutes("CLAIM_HOLD_TTL_MIN", 120),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// minutes reads an integer number of minutes from the environment, falling
// back to the given default when unset.  Invalid values are fatal: a wrong
// hold window silently defaulting would change reservation semantics.
func minutes(key string, def int) time.Duration {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		return time.Duration(def) * time.Minute
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Fatalf("invalid minutes for %s: %q", key, s)
	}
	return time.Duration(n) * time.Minute
}
