/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package fsm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request carries an event for a machine whose type is not known at compile time,
// together with the context facts to merge before the event is evaluated.
type Request struct {
	Event    Event
	Patch    json.RawMessage
	Metadata Metadata
}

// Driver runs a Request against a JSON-encoded Snapshot, for one Kind of machine.
type Driver interface {
	Kind() string
	// Create builds a new machine in its initial state, from a JSON-encoded context, and
	// returns its snapshot.
	Create(id string, context json.RawMessage) ([]byte, error)
	// Apply restores the machine from `snapshot`, merges the patch, fires the event
	// and returns the new snapshot along with the Result.
	// The patch is merged even when the event is then denied, as SetContext would.
	Apply(ctx context.Context, snapshot []byte, req Request) ([]byte, *Result, error)
}

// CreateFunc builds a typed machine with the given id and initial context.
type CreateFunc[C any] func(id string, c C) *Machine[C]

// RestoreFunc rebuilds a typed machine from its snapshot; every domain package has one.
type RestoreFunc[C any] func(snapshot Snapshot[C]) (*Machine[C], error)

type driver[C any] struct {
	kind    string
	create  CreateFunc[C]
	restore RestoreFunc[C]
}

func NewDriver[C any](kind string, create CreateFunc[C], restore RestoreFunc[C]) Driver {
	return &driver[C]{kind: kind, create: create, restore: restore}
}

func (d *driver[C]) Kind() string {
	return d.kind
}

func (d *driver[C]) Create(id string, context json.RawMessage) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("a %s machine needs an id", d.kind)
	}
	var c C
	if len(context) > 0 {
		if err := json.Unmarshal(context, &c); err != nil {
			return nil, fmt.Errorf("invalid %s context: %w", d.kind, err)
		}
	}
	return json.Marshal(d.create(id, c).Serialize())
}

func (d *driver[C]) Apply(ctx context.Context, data []byte, req Request) ([]byte, *Result, error) {
	var snapshot Snapshot[C]
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, nil, fmt.Errorf("invalid %s snapshot: %w", d.kind, err)
	}
	m, err := d.restore(snapshot)
	if err != nil {
		return nil, nil, err
	}
	if len(req.Patch) > 0 {
		if err := m.MergeContext(req.Patch); err != nil {
			return nil, nil, err
		}
	}
	res := m.Transition(ctx, req.Event, req.Metadata)
	out, err := json.Marshal(m.Serialize())
	if err != nil {
		return nil, res, fmt.Errorf("cannot encode %s snapshot: %w", d.kind, err)
	}
	return out, res, nil
}
