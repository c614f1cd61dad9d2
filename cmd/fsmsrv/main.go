/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	g "google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/massenz/go-lifecycle/pkg/audit"
	"github.com/massenz/go-lifecycle/pkg/config"
	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/grpc"
	"github.com/massenz/go-lifecycle/pkg/kyc"
	"github.com/massenz/go-lifecycle/pkg/metrics"
	"github.com/massenz/go-lifecycle/pkg/order"
	"github.com/massenz/go-lifecycle/pkg/payment"
	"github.com/massenz/go-lifecycle/pkg/prediction"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
	"github.com/massenz/go-lifecycle/pkg/server"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	logger = zlog.With().Str("logger", "fsmsrv").Logger()

	// producers are the SQS subscriber, the HTTP and the gRPC servers: they must all have
	// stopped before eventsCh is closed.
	producers  sync.WaitGroup
	listening  sync.WaitGroup
	publishing sync.WaitGroup

	// eventsCh is the channel over which the Listener receives Events to process.
	// The HTTP and gRPC Servers, and the PubSub Subscriber (if configured) will produce
	// events for this channel.
	eventsCh = make(chan pubsub.EventRequest)

	// notificationsCh carries the outcome of every event to the PubSub Publisher; it is
	// only created if a -notifications topic is defined.
	notificationsCh chan pubsub.EventOutcome
)

func main() {
	// Global zerolog configuration.
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zlog.Logger = zlog.Output(os.Stderr)

	cfg := parseConfig()
	logger.Info().Str("release", server.Release).Msg("starting Lifecycle Server")

	if cfg.Redis.Address == "" {
		logger.Fatal().Err(errors.New("a Redis server must be configured")).Msg("fatal configuration error")
	}
	logger.Info().
		Str("redis_addr", cfg.Redis.Address).
		Str("redis_cluster", strconv.FormatBool(cfg.Redis.Cluster)).
		Str("redis_timeout", cfg.Redis.Timeout.String()).
		Str("redis_max_retries", strconv.Itoa(cfg.Redis.MaxRetries)).
		Msg("connecting to Redis server")
	store := storage.NewRedisStore(cfg.Redis.Address, cfg.Redis.Cluster, cfg.Redis.DB,
		cfg.Redis.Timeout, cfg.Redis.MaxRetries)

	var sqsClient sqsiface.SQSAPI
	if cfg.SQS.Events != "" || cfg.SQS.Notifications != "" || cfg.SQS.Audit != "" {
		var endpoint *string
		if cfg.SQS.EndpointURL != "" {
			endpoint = &cfg.SQS.EndpointURL
		}
		var err error
		if sqsClient, err = pubsub.NewSqsClient(endpoint); err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to SQS")
		}
	}

	sinks := audit.MultiSink{audit.StoreSink{Log: store}, audit.NewLogSink()}
	var pub *pubsub.SqsPublisher
	if cfg.SQS.Notifications != "" {
		notificationsCh = make(chan pubsub.EventOutcome)
	}
	if sqsClient != nil {
		pub = pubsub.NewSqsPublisher(notificationsCh, sqsClient)
	}
	if cfg.SQS.Audit != "" {
		logger.Info().Str("sqs_topic", cfg.SQS.Audit).Msg("publishing audit records")
		sink, err := pub.AuditSink(cfg.SQS.Audit)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot publish audit records")
		}
		sinks = append(sinks, sink)
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot register metrics")
	}
	drivers := []fsm.Driver{
		order.Driver(options[order.Context](cfg, sinks, collector)...),
		kyc.Driver(options[kyc.Context](cfg, sinks, collector)...),
		payment.Driver(options[payment.Context](cfg, sinks, collector)...),
		prediction.Driver(options[prediction.Context](cfg, sinks, collector)...),
	}

	ctx, cancel := context.WithCancel(context.Background())
	if cfg.SQS.Events != "" {
		logger.Info().
			Str("sqs_topic", cfg.SQS.Events).
			Str("sqs_endpoint", cfg.SQS.EndpointURL).
			Msg("connecting to SQS topic for incoming events")
		sub := pubsub.NewSqsSubscriber(eventsCh, sqsClient)
		producers.Add(1)
		go func() {
			defer producers.Done()
			logger.Info().Msgf("subscribing to events on topic [%s]", cfg.SQS.Events)
			if err := sub.Subscribe(ctx, cfg.SQS.Events); err != nil {
				logger.Fatal().Err(err).Msg("fatal error subscribing to SQS")
			}
		}()
	}
	if notificationsCh != nil {
		logger.Info().
			Str("sqs_topic", cfg.SQS.Notifications).
			Msg("publishing events outcomes")
		publishing.Add(1)
		go func() {
			defer publishing.Done()
			if err := pub.Publish(cfg.SQS.Notifications); err != nil {
				logger.Fatal().Err(err).Msg("fatal error publishing to SQS")
			}
		}()
	}

	listener := pubsub.NewEventsListener(&pubsub.ListenerOptions{
		EventsChannel:        eventsCh,
		NotificationsChannel: notificationsCh,
		Store:                store,
		Drivers:              drivers,
	})
	logger.Info().Msg("starting events listener")
	listening.Add(1)
	go func() {
		defer listening.Done()
		// Runs until eventsCh is closed, so that no accepted event is lost.
		listener.ListenForMessages(context.Background())
	}()

	logger.Info().Int("http_port", cfg.HttpPort).Msg("HTTP server starting")
	svr := startHttpServer(cfg.HttpPort, &server.Config{
		Store:    store,
		Drivers:  drivers,
		Events:   eventsCh,
		Gatherer: prometheus.DefaultGatherer,
	})

	var gsrv *g.Server
	var hs *health.Server
	if cfg.GrpcPort != 0 {
		logger.Info().Int("grpc_port", cfg.GrpcPort).Msg("gRPC server starting")
		gsrv, hs = startGrpcServer(cfg.GrpcPort, &grpc.Config{
			EventsChannel: eventsCh,
			Drivers:       drivers,
		})
	}

	// This should not be invoked until we have initialized all the services.
	setLogLevel(cfg)
	logger.Info().Msg("lifecycle server ready for processing events...")
	RunUntilStopped(cancel, svr, gsrv, hs)
	logger.Info().Msg("...done. Goodbye.")
}

// parseConfig loads the -config file, if any, then overrides its values with the flags
// set on the command line.
func parseConfig() *config.Config {
	var configFile = flag.String("config", "", "(optional) YAML configuration file; flags "+
		"override its values")
	var awsEndpoint = flag.String("endpoint-url", "",
		"HTTP URL for AWS SQS to connect to; usually best left undefined, "+
			"unless required for local testing purposes (LocalStack uses http://localhost:4566)")
	var cluster = flag.Bool("cluster", false,
		"If set, connects to Redis with cluster-mode enabled")
	var debug = flag.Bool("debug", false,
		"Verbose logs; better to avoid on Production services")
	var eventsTopic = flag.String("events", "", "Topic name to receive events from")
	var auditTopic = flag.String("audit", "",
		"(optional) The name of the topic to publish every committed transition to")
	var httpPort = flag.Int("http-port", config.DefaultHttpPort,
		"The port for the HTTP server (API, health and metrics)")
	var grpcPort = flag.Int("grpc-port", config.DefaultGrpcPort,
		"The port for the gRPC server (events and health checks); 0 disables it")
	var maxRetries = flag.Int("max-retries", storage.DefaultMaxRetries,
		"Max number of attempts for a recoverable error to be retried against the Redis cluster")
	var notificationsTopic = flag.String("notifications", "",
		"(optional) The name of the topic to publish events' outcomes to; if not "+
			"specified, no outcomes will be published")
	var redisUrl = flag.String("redis", "", "For single node Redis instances: host:port "+
		"for the Redis instance. For redis clusters: a comma-separated list of redis nodes. "+
		"If using an ElastiCache Redis cluster with cluster mode enabled, this can also be the configuration endpoint.")
	var timeout = flag.Duration("timeout", storage.DefaultTimeout,
		"Timeout for Redis (as a Duration string, e.g. 1s, 20ms, etc.)")
	var trace = flag.Bool("trace", false,
		"Extremely verbose logs for every API request and Pub/Sub event; it may impact"+
			" performance, do not use in production or on heavily loaded systems (will override the -debug option)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load configuration")
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint-url":
			cfg.SQS.EndpointURL = *awsEndpoint
		case "cluster":
			cfg.Redis.Cluster = *cluster
		case "events":
			cfg.SQS.Events = *eventsTopic
		case "audit":
			cfg.SQS.Audit = *auditTopic
		case "notifications":
			cfg.SQS.Notifications = *notificationsTopic
		case "http-port":
			cfg.HttpPort = *httpPort
		case "grpc-port":
			cfg.GrpcPort = *grpcPort
		case "max-retries":
			cfg.Redis.MaxRetries = *maxRetries
		case "redis":
			cfg.Redis.Address = *redisUrl
		case "timeout":
			cfg.Redis.Timeout = *timeout
		}
	})
	// -trace takes priority over -debug
	if *trace {
		cfg.LogLevel = zerolog.TraceLevel.String()
	} else if *debug {
		cfg.LogLevel = zerolog.DebugLevel.String()
	}
	if err = cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("fatal configuration error")
	}
	return cfg
}

// options attaches the audit sinks and the metrics collector to every machine of a kind.
func options[C any](cfg *config.Config, sink audit.Sink, collector *metrics.Collector) []fsm.Option[C] {
	return []fsm.Option[C]{
		fsm.WithMaxHistory[C](cfg.MaxHistory),
		audit.Option[C](sink),
		metrics.Option[C](collector),
	}
}

func RunUntilStopped(cancel context.CancelFunc, svr *http.Server, gsrv *g.Server, hs *health.Server) {
	// Trap Ctrl-C and SIGTERM (Docker/Kubernetes) to shutdown gracefully
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received.
	<-c
	logger.Info().Msg("shutting down services...")
	if hs != nil {
		hs.Shutdown()
	}
	cancel()
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := svr.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	if gsrv != nil {
		gsrv.GracefulStop()
	}
	logger.Info().Msg("waiting for services to exit...")
	producers.Wait()
	close(eventsCh)
	listening.Wait()
	// The listener was the only sender of notifications.
	if notificationsCh != nil {
		close(notificationsCh)
	}
	publishing.Wait()
}

// setLogLevel sets the global logging level from the configuration.
func setLogLevel(cfg *config.Config) {
	level, _ := cfg.Level()
	switch level {
	case zerolog.DebugLevel:
		logger.Info().Msg("verbose logging enabled")
	case zerolog.TraceLevel:
		logger.Info().Msg("trace logging enabled")
		server.EnableTracing()
	}
	server.SetLogLevel(level)
	zerolog.SetGlobalLevel(level)
}

// startHttpServer starts a new HTTP server, bound to the local `port`, which will send any
// incoming event to the events channel.
func startHttpServer(port int, cfg *server.Config) *http.Server {
	svr := server.NewHTTPServer(fmt.Sprintf(":%d", port), cfg)
	producers.Add(1)
	go func() {
		defer producers.Done()
		if err := svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server exited with error")
		}
		logger.Info().Msg("HTTP Server exited")
	}()
	return svr
}

// startGrpcServer serves the StatemachineService and the gRPC health checks on the local
// `port`.
func startGrpcServer(port int, cfg *grpc.Config) (*g.Server, *health.Server) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatal().Err(err).Msgf("cannot listen on port %d", port)
	}
	gsrv, hs := grpc.NewGrpcServer(cfg)
	producers.Add(1)
	go func() {
		defer producers.Done()
		if err := gsrv.Serve(l); err != nil {
			logger.Fatal().Err(err).Msg("gRPC server exited with error")
		}
		logger.Info().Msg("gRPC Server exited")
	}()
	return gsrv, hs
}
