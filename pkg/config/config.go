/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package config loads the server configuration from a YAML file; command-line flags take
// precedence over the values in the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

const (
	DefaultHttpPort = 7399
	DefaultGrpcPort = 7398
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Redis struct {
	// Address is host:port for single node Redis instances, or a comma-separated list of
	// nodes for clusters.
	Address    string        `yaml:"address"`
	Cluster    bool          `yaml:"cluster"`
	DB         int           `yaml:"db"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type SQS struct {
	EndpointURL   string `yaml:"endpoint_url"`
	Events        string `yaml:"events"`
	Notifications string `yaml:"notifications"`
	Audit         string `yaml:"audit"`
}

type Config struct {
	Redis    Redis  `yaml:"redis"`
	SQS      SQS    `yaml:"sqs"`
	HttpPort int    `yaml:"http_port"`
	// GrpcPort is the port for the gRPC server; 0 disables it.
	GrpcPort int    `yaml:"grpc_port"`
	LogLevel string `yaml:"log_level"`
	// MaxHistory bounds the in-machine history; the audit log always keeps every record.
	MaxHistory int `yaml:"max_history"`
}

func Default() *Config {
	return &Config{
		Redis: Redis{
			DB:         storage.DefaultRedisDb,
			Timeout:    storage.DefaultTimeout,
			MaxRetries: storage.DefaultMaxRetries,
		},
		HttpPort:   DefaultHttpPort,
		GrpcPort:   DefaultGrpcPort,
		LogLevel:   zerolog.InfoLevel.String(),
		MaxHistory: fsm.DefaultMaxHistory,
	}
}

// Load reads the YAML file at `path` over the defaults; an empty path only returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch {
	case c.HttpPort < 0 || c.HttpPort > 65535:
		return fmt.Errorf("%w: http_port %d out of range", ErrInvalidConfig, c.HttpPort)
	case c.GrpcPort < 0 || c.GrpcPort > 65535:
		return fmt.Errorf("%w: grpc_port %d out of range", ErrInvalidConfig, c.GrpcPort)
	case c.GrpcPort != 0 && c.GrpcPort == c.HttpPort:
		return fmt.Errorf("%w: grpc_port and http_port must differ", ErrInvalidConfig)
	case c.Redis.Timeout <= 0:
		return fmt.Errorf("%w: redis timeout must be positive", ErrInvalidConfig)
	case c.Redis.MaxRetries < 1:
		return fmt.Errorf("%w: redis max_retries must be at least 1", ErrInvalidConfig)
	case c.MaxHistory < 0:
		return fmt.Errorf("%w: max_history cannot be negative", ErrInvalidConfig)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(c.LogLevel)
}
