/*
 * Copyright (c) 2023 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	zlog "github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/massenz/go-lifecycle/pkg/server"
)

// Most basic binary to run health checks on fsmsrv.
// Used to assert readiness of the container/pod in Docker/Kubernetes.
func main() {
	var address = flag.String("host", "localhost:7398",
		"The address (host:port) for the gRPC server, or the HTTP one with -http")
	var timeout = flag.Duration("timeout", 200*time.Millisecond,
		"timeout expressed as a duration string (e.g., 200ms, 1s, etc.)")
	var useHttp = flag.Bool("http", false, "checks the HTTP health endpoint instead")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if *useHttp {
		checkHttp(ctx, *address)
		return
	}

	cc, err := grpc.Dial(*address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		zlog.Fatal().Err(err).Msgf("cannot open connection to %s", *address)
	}
	defer cc.Close()

	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		zlog.Fatal().Err(err).Msgf("cannot connect to %s", *address)
	}
	jsonBytes, err := protojson.Marshal(resp)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Error while marshaling the message to JSON")
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		zlog.Fatal().Msg(string(jsonBytes))
	}
	fmt.Println(string(jsonBytes))
}

func checkHttp(ctx context.Context, address string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s%s", address, server.HealthEndpoint), nil)
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid address")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		zlog.Fatal().Err(err).Msgf("cannot connect to %s", address)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		zlog.Fatal().Err(err).Msg("cannot read the response")
	}
	if resp.StatusCode != http.StatusOK {
		zlog.Fatal().Int("status", resp.StatusCode).Msg(string(body))
	}
	fmt.Print(string(body))
}
