/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package pubsub

import (
	"encoding/json"
	"fmt"

	protos "github.com/massenz/statemachine-proto/golang/api"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

// eventDetails is carried, JSON-encoded, in the `Details` of a protos.Event.
type eventDetails struct {
	Patch    json.RawMessage `json:"patch,omitempty"`
	Metadata *fsm.Metadata   `json:"metadata,omitempty"`
}

// NewProtoRequest converts `req` into the statemachine-proto EventRequest.
//
// `Config` carries the machine kind and `Id` its ID; the patch and the metadata travel as a
// JSON document in the event `Details`, and the actor (if any) is also the `Originator`.
func NewProtoRequest(req EventRequest) (*protos.EventRequest, error) {
	evt := &protos.Event{
		EventId:    req.EventID,
		Transition: &protos.Transition{Event: string(req.Event)},
		Originator: req.Metadata.Actor,
	}
	if !req.Timestamp.IsZero() {
		evt.Timestamp = timestamppb.New(req.Timestamp)
	}
	if len(req.Patch) > 0 || !req.Metadata.IsZero() {
		details := eventDetails{Patch: req.Patch}
		if !req.Metadata.IsZero() {
			md := req.Metadata
			details.Metadata = &md
		}
		data, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("cannot encode event details: %w", err)
		}
		evt.Details = string(data)
	}
	return &protos.EventRequest{Event: evt, Config: req.Kind, Id: req.ID}, nil
}

// FromProtoRequest is the inverse of NewProtoRequest. Requests sent by clients which only
// set the `Originator` carry it as the actor metadata.
func FromProtoRequest(msg *protos.EventRequest) (EventRequest, error) {
	evt := msg.GetEvent()
	req := EventRequest{
		EventID: evt.GetEventId(),
		Kind:    msg.GetConfig(),
		ID:      msg.GetId(),
		Event:   fsm.Event(evt.GetTransition().GetEvent()),
	}
	if evt.GetTimestamp() != nil {
		req.Timestamp = evt.GetTimestamp().AsTime()
	}
	if evt.GetOriginator() != "" {
		req.Metadata = fsm.ByActor(evt.GetOriginator())
	}
	if evt.GetDetails() != "" {
		var details eventDetails
		if err := json.Unmarshal([]byte(evt.GetDetails()), &details); err != nil {
			return EventRequest{}, fmt.Errorf("invalid event details: %w", err)
		}
		req.Patch = details.Patch
		if details.Metadata != nil {
			req.Metadata = *details.Metadata
		}
	}
	return req, nil
}

// EncodeRequest encodes `req` as a Base64 protos.EventRequest, the body of the messages on
// the events queue.
func EncodeRequest(req EventRequest) (string, error) {
	msg, err := NewProtoRequest(req)
	if err != nil {
		return "", err
	}
	return p.MarshalToText(msg)
}

// DecodeRequest is the inverse of EncodeRequest.
func DecodeRequest(text string) (EventRequest, error) {
	var msg protos.EventRequest
	if err := p.UnmarshalFromText(text, &msg); err != nil {
		return EventRequest{}, err
	}
	return FromProtoRequest(&msg)
}
