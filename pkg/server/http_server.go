/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package server exposes the machines over HTTP: read access to snapshots and audit
// records, creation of new machines, and submission of events to the events listener.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

const (
	Api              = "/api/v1"
	HealthEndpoint   = "/health"
	MetricsEndpoint  = "/metrics"
	MachinesEndpoint = Api + "/machines"
)

var (
	// Release carries the version of the binary, as set by the build script
	// See: https://blog.alexellis.io/inject-build-time-vars-golang/
	Release string

	shouldTrace bool
	logger      = zlog.With().Str("logger", "http").Logger()
)

// Config carries the services the handlers need.
type Config struct {
	Store   storage.StoreManager
	Drivers []fsm.Driver
	// Events receives the EventRequests submitted over HTTP; if nil, events are rejected.
	Events chan<- pubsub.EventRequest
	// Gatherer serves /metrics, if set.
	Gatherer prometheus.Gatherer
}

type handlers struct {
	store   storage.StoreManager
	drivers map[string]fsm.Driver
	events  chan<- pubsub.EventRequest
}

func trace(endpoint string) func() {
	if !shouldTrace {
		return func() {}
	}
	start := time.Now()
	logger.Trace().Msgf("Handling: [%s]", endpoint)
	return func() { logger.Trace().Msgf("%s took %s", endpoint, time.Since(start)) }
}

func defaultContent(w http.ResponseWriter) {
	w.Header().Add(ContentType, ApplicationJson)
}

func EnableTracing() {
	shouldTrace = true
}

// NewRouter returns a gorilla/mux Router for the server routes; exposed so
// that path params are testable.
func NewRouter(cfg *Config) *mux.Router {
	h := &handlers{
		store:   cfg.Store,
		drivers: make(map[string]fsm.Driver),
		events:  cfg.Events,
	}
	for _, d := range cfg.Drivers {
		h.drivers[d.Kind()] = d
	}
	byKind := strings.Join([]string{MachinesEndpoint, "{kind}"}, "/")
	byId := strings.Join([]string{byKind, "{id}"}, "/")

	r := mux.NewRouter()
	r.HandleFunc(HealthEndpoint, h.health).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		r.Handle(MetricsEndpoint, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}
	r.HandleFunc(byKind, h.createMachine).Methods(http.MethodPost)
	r.HandleFunc(byKind, h.machinesInState).Methods(http.MethodGet).Queries("state", "{state}")
	r.HandleFunc(byId, h.getMachine).Methods(http.MethodGet)
	r.HandleFunc(byId+"/history", h.getHistory).Methods(http.MethodGet)
	r.HandleFunc(byId+"/events", h.sendEvent).Methods(http.MethodPost)
	return r
}

func NewHTTPServer(addr string, cfg *Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// SetLogLevel only affects the HTTP handlers' logger.
func SetLogLevel(level zerolog.Level) {
	logger = logger.Level(level)
}
