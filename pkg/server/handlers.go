/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	// Standard preamble for all handlers, sets tracing (if enabled) and default content type.
	defer trace(r.RequestURI)()
	defaultContent(w)

	if err := h.store.Health(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		encode(w, MessageResponse{Msg: "DOWN", Error: err.Error()})
		return
	}
	encode(w, MessageResponse{Msg: map[string]string{"status": "UP", "release": Release}})
}

func (h *handlers) createMachine(w http.ResponseWriter, r *http.Request) {
	defer trace(r.RequestURI)()
	defaultContent(w)

	driver, ok := h.driver(w, r)
	if !ok {
		return
	}
	var request MachineRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	kind := driver.Kind()
	_, err := h.store.GetSnapshot(r.Context(), kind, request.ID)
	switch {
	case err == nil:
		http.Error(w, fmt.Sprintf("%s %s already exists", kind, request.ID), http.StatusConflict)
		return
	case !storage.IsNotFoundErr(err):
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	snapshot, err := driver.Create(request.ID, request.Context)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.store.PutSnapshot(r.Context(), kind, request.ID, snapshot); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	logger.Info().Str("kind", kind).Str("id", request.ID).Msg("machine created")

	w.Header().Add(Location, strings.Join([]string{MachinesEndpoint, kind, request.ID}, "/"))
	w.WriteHeader(http.StatusCreated)
	encode(w, MachineResponse{Kind: kind, ID: request.ID, Snapshot: snapshot})
}

func (h *handlers) getMachine(w http.ResponseWriter, r *http.Request) {
	defer trace(r.RequestURI)()
	defaultContent(w)

	driver, ok := h.driver(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	logger.Debug().Msgf("Looking up FSM %s#%s", driver.Kind(), id)
	snapshot, err := h.store.GetSnapshot(r.Context(), driver.Kind(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	encode(w, MachineResponse{Kind: driver.Kind(), ID: id, Snapshot: snapshot})
}

func (h *handlers) machinesInState(w http.ResponseWriter, r *http.Request) {
	defer trace(r.RequestURI)()
	defaultContent(w)

	driver, ok := h.driver(w, r)
	if !ok {
		return
	}
	state := fsm.State(mux.Vars(r)["state"])
	ids, err := h.store.GetAllInState(r.Context(), driver.Kind(), state)
	if err != nil {
		storeError(w, err)
		return
	}
	encode(w, MachinesResponse{Kind: driver.Kind(), State: state, IDs: ids})
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	defer trace(r.RequestURI)()
	defaultContent(w)

	driver, ok := h.driver(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	records, err := h.store.GetRecords(r.Context(), driver.Kind(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	encode(w, HistoryResponse{Kind: driver.Kind(), ID: id, Records: records})
}

// sendEvent hands the event over to the events listener, without waiting for its outcome.
func (h *handlers) sendEvent(w http.ResponseWriter, r *http.Request) {
	defer trace(r.RequestURI)()
	defaultContent(w)

	driver, ok := h.driver(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		http.Error(w, "this server does not accept events", http.StatusServiceUnavailable)
		return
	}
	var request EventRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Event == "" {
		http.Error(w, "an event is required", http.StatusBadRequest)
		return
	}
	if request.EventID == "" {
		request.EventID = uuid.NewString()
	}
	evt := pubsub.EventRequest{
		EventID:   request.EventID,
		Kind:      driver.Kind(),
		ID:        mux.Vars(r)["id"],
		Event:     request.Event,
		Patch:     request.Patch,
		Metadata:  request.Metadata,
		Timestamp: time.Now(),
	}
	select {
	case h.events <- evt:
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	encode(w, EventResponse{EventID: request.EventID})
}

func (h *handlers) driver(w http.ResponseWriter, r *http.Request) (fsm.Driver, bool) {
	kind := mux.Vars(r)["kind"]
	d, ok := h.drivers[kind]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown kind of machine: %q", kind), http.StatusNotFound)
	}
	return d, ok
}

func storeError(w http.ResponseWriter, err error) {
	if storage.IsNotFoundErr(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logger.Error().Err(err).Msg("store error")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("cannot encode response")
	}
}
