/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package testing starts the servers the test suites run against: in-process fakes by
// default, real containers when INTEGRATION_TESTS is set.
package testing

import (
	"context"
	"fmt"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	IntegrationEnv = "INTEGRATION_TESTS"

	localstackImage = "localstack/localstack:3.2"
	localstackPort  = "4566/tcp"
	redisImage      = "redis:6"
	redisPort       = "6379/tcp"
	Region          = "us-west-2"
)

// Server is where a test server can be reached; Stop releases it.
type Server struct {
	Address string
	Stop    func(ctx context.Context) error
}

func Integration() bool {
	return os.Getenv(IntegrationEnv) != ""
}

// StartRedis runs an in-process miniredis, or a Redis container for integration tests.
func StartRedis(ctx context.Context) (*Server, error) {
	if !Integration() {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, err
		}
		return &Server{
			Address: mr.Addr(),
			Stop: func(context.Context) error {
				mr.Close()
				return nil
			},
		}, nil
	}
	return start(ctx, testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{redisPort},
		WaitingFor:   wait.ForLog("* Ready to accept connections"),
	}, redisPort, "%s:%s")
}

// StartLocalstack runs a LocalStack container serving SQS, and returns its endpoint URL.
func StartLocalstack(ctx context.Context) (*Server, error) {
	return start(ctx, testcontainers.ContainerRequest{
		Image:        localstackImage,
		ExposedPorts: []string{localstackPort},
		WaitingFor:   wait.ForLog("Ready."),
		Env: map[string]string{
			"AWS_REGION": Region,
			"SERVICES":   "sqs",
		},
	}, localstackPort, "http://%s:%s")
}

func start(ctx context.Context, req testcontainers.ContainerRequest, port, addrFmt string) (*Server, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return nil, err
	}
	return &Server{
		Address: fmt.Sprintf(addrFmt, host, mapped.Port()),
		Stop: func(ctx context.Context) error {
			return container.Terminate(ctx)
		},
	}, nil
}
