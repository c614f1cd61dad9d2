/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package grpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	protos "github.com/massenz/statemachine-proto/golang/api"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
)

// DefaultTimeout bounds how long SendEvent waits for the events channel to accept a request.
const DefaultTimeout = 200 * time.Millisecond

type Config struct {
	EventsChannel chan<- pubsub.EventRequest
	Drivers       []fsm.Driver
	Timeout       time.Duration
}

var _ protos.StatemachineServiceServer = (*grpcSubscriber)(nil)

type grpcSubscriber struct {
	protos.UnimplementedStatemachineServiceServer
	*Config
	logger zerolog.Logger
	kinds  map[string]bool
}

func newGrpcServer(config *Config) *grpcSubscriber {
	srv := &grpcSubscriber{
		Config: config,
		logger: zlog.With().Str("logger", "grpc").Logger(),
		kinds:  make(map[string]bool, len(config.Drivers)),
	}
	for _, d := range config.Drivers {
		srv.kinds[d.Kind()] = true
	}
	if srv.Timeout == 0 {
		srv.Timeout = DefaultTimeout
	}
	return srv
}

// SendEvent validates the request and hands it over to the events channel; the outcome is
// posted, as for any other request, to the notifications queue.
func (s *grpcSubscriber) SendEvent(ctx context.Context, request *protos.EventRequest) (*protos.EventResponse, error) {
	if request.GetId() == "" {
		return nil, status.Error(codes.FailedPrecondition, "no statemachine ID specified")
	}
	if request.GetEvent().GetTransition().GetEvent() == "" {
		return nil, status.Error(codes.FailedPrecondition, "events must always specify the event type")
	}
	if !s.kinds[request.GetConfig()] {
		return nil, status.Errorf(codes.NotFound, "no statemachine of kind `%s`", request.GetConfig())
	}
	evt, err := pubsub.FromProtoRequest(request)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	s.logger.Trace().Msgf("Sending Event to channel: %v", evt.EventID)

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	select {
	case s.EventsChannel <- evt:
	case <-ctx.Done():
		s.logger.Error().Str("event_id", evt.EventID).Msg("events channel did not accept the request")
		return nil, status.Error(codes.Unavailable, "the server cannot accept events at this time")
	}
	return &protos.EventResponse{EventId: evt.EventID}, nil
}

// NewGrpcServer creates a server for the StatemachineService, which also serves the
// standard gRPC health checks; the health.Server starts in the SERVING status.
func NewGrpcServer(config *Config) (*grpc.Server, *health.Server) {
	gsrv := grpc.NewServer()
	protos.RegisterStatemachineServiceServer(gsrv, newGrpcServer(config))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gsrv, hs)
	return gsrv, hs
}
