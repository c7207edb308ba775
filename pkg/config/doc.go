// Package config loads typed configuration from environment variables using
// github.com/caarlos0/env, with an optional .env file loaded through
// github.com/joho/godotenv.
//
// Each component declares its own config struct with env tags (pg.Config,
// redis.Config, renewal.Config, ...). Load parses and caches one value per
// type; Parse skips the cache, which is what tests usually want.
//
// Structs implementing Validator are checked right after parsing, so an
// invalid combination fails at startup instead of on the first renewal pass.
package config
