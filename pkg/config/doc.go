// Package config loads typed configuration structs from environment variables
// using github.com/caarlos0/env/v11, with optional .env files read through
// github.com/joho/godotenv.
//
// Every component owns its config struct (pg.Config, redis.Config,
// httpserver.Config, subscription.Config, ...) and the binary loads each one
// with Load. Results are cached per struct type.
package config
