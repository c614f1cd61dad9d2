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
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxHistory caps the number of TransitionRecords a Machine keeps.
	DefaultMaxHistory = 1000
)

var (
	ErrMissingStates       = fmt.Errorf("configuration must always specify at least one state")
	ErrUndeclaredState     = fmt.Errorf("state is not one of the declared states")
	ErrDuplicateTransition = fmt.Errorf("duplicate transition definition")
	ErrAmbiguousTransition = fmt.Errorf("more than one unguarded transition for the same event")
	ErrMissingEvent        = fmt.Errorf("transitions must always specify the event")
	ErrSnapshotMismatch    = fmt.Errorf("snapshot does not belong to this machine")
)

type State string
type Event string

// Guard is a pure predicate over the machine's context; it may be evaluated more than
// once per call and must not have side effects.
type Guard[C any] func(ctx C, from, to State, evt Event) bool

// Hook runs after a transition has been committed; it may mutate the context via
// Machine.SetContext, and perform I/O.
type Hook[C any] func(ctx context.Context, m *Machine[C], rec TransitionRecord) error

// TransitionDef describes how Event moves the machine from any of the From states to To.
type TransitionDef[C any] struct {
	From        []State
	To          State
	Event       Event
	Guard       Guard[C]
	Description string
}

// Hooks are keyed by the state being left (OnExit) or entered (OnEnter); OnTransition
// hooks run for every committed transition, in the order they were added.
type Hooks[C any] struct {
	OnExit       map[State]Hook[C]
	OnEnter      map[State]Hook[C]
	OnTransition []Hook[C]
}

// Config is the declarative definition of a Machine.
type Config[C any] struct {
	// ID identifies the entity this machine models (an order, a user, a payment...)
	ID string
	// Kind names the machine family (e.g., `order`) and is used for logging and metrics.
	Kind        string
	States      []State
	Initial     State
	Transitions []TransitionDef[C]
	Context     C
	Hooks       Hooks[C]
	MaxHistory  int
	Logger      *zerolog.Logger
	Clock       func() time.Time
	Observer    Observer
}

// TransitionRecord is the immutable audit entry for a committed transition.
type TransitionRecord struct {
	ID        string    `json:"id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Snapshot is the persistence contract: everything needed to rebuild a Machine.
type Snapshot[C any] struct {
	ID           string             `json:"id"`
	CurrentState State              `json:"currentState"`
	Context      C                  `json:"context"`
	History      []TransitionRecord `json:"history"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Cloner is implemented by contexts carrying reference types (slices, maps, pointers)
// so that Machine.Context can hand out a copy which shares nothing with the machine.
// Contexts which do not implement it are copied through their JSON encoding.
type Cloner[C any] interface {
	Clone() C
}

// When adapts a predicate over the context alone into a Guard.
func When[C any](pred func(C) bool) Guard[C] {
	return func(c C, _, _ State, _ Event) bool {
		return pred(c)
	}
}
