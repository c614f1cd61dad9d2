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

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const (
	ContentType     = "Content-Type"
	ApplicationJson = "application/json"
	Location        = "Location"
)

// MessageResponse is returned when a more appropriate response is not available.
type MessageResponse struct {
	Msg   interface{} `json:"message,omitempty"`
	Error string      `json:"error,omitempty"`
}

// MachineRequest asks for a new machine to be created, with an optional ID and its initial
// context.
//
// If the ID is not specified, a new UUID will be generated and returned.
type MachineRequest struct {
	ID      string          `json:"id"`
	Context json.RawMessage `json:"context,omitempty"`
}

// MachineResponse wraps the snapshot of a machine, as stored.
type MachineResponse struct {
	Kind     string          `json:"kind"`
	ID       string          `json:"id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type MachinesResponse struct {
	Kind  string    `json:"kind"`
	State fsm.State `json:"state"`
	IDs   []string  `json:"ids"`
}

type HistoryResponse struct {
	Kind    string                 `json:"kind"`
	ID      string                 `json:"id"`
	Records []fsm.TransitionRecord `json:"records"`
}

// EventRequest is the body of an event sent over HTTP; the kind and id of the machine are
// in the path.
type EventRequest struct {
	EventID  string          `json:"eventId,omitempty"`
	Event    fsm.Event       `json:"event"`
	Patch    json.RawMessage `json:"patch,omitempty"`
	Metadata fsm.Metadata    `json:"metadata"`
}

// EventResponse acknowledges an event: its outcome is published on the notifications topic.
type EventResponse struct {
	EventID string `json:"eventId"`
}
