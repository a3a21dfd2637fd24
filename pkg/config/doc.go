// Package config loads process configuration from the environment into
// explicitly passed structs.
//
// It wraps github.com/joho/godotenv (optional .env files) and
// github.com/caarlos0/env/v11 (struct tags). Nothing is cached: every call
// parses into the struct it is given, and callers pass the result down to the
// components that need it.
//
//	var cfg struct {
//	    Redis  redis.Config
//	    Notify notify.Config
//	}
//	if err := config.Load(&cfg, config.WithEnvFiles(".env")); err != nil {
//	    log.Fatal(err)
//	}
//
// A missing .env file is not an error; a file that exists but cannot be read is.
package config
