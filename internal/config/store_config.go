package config

import (
	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverRedis  = "redis"
)

type StoreConfig interface {
	GetStoreDriver() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

// Store selects where pending auth flows and per-session token caches live.
type Store struct {
	Driver        string `env:"DRIVER, default=memory"`
	RedisAddr     string `env:"REDIS_ADDR, default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASS"`
	RedisDB       int    `env:"REDIS_DB, default=0"`
}

var _ StoreConfig = Store{}

func (s Store) GetStoreDriver() string {
	if s.Driver == "" {
		return StoreDriverMemory
	}
	return s.Driver
}

func (s Store) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Store) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Store) GetRedisDB() int {
	return s.RedisDB
}

func (s Store) Validate() error {
	addrRules := []validation.Rule{}
	if s.Driver == StoreDriverRedis {
		addrRules = append(addrRules, validation.Required)
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.In(StoreDriverMemory, StoreDriverRedis)),
		validation.Field(&s.RedisAddr, addrRules...),
	)
}
