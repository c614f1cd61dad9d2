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
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Machine is a guarded finite state machine, modeling a single entity.
//
// A Machine performs no locking: callers must serialize calls to SetContext,
// MergeContext, Transition and Restore for any given instance.
type Machine[C any] struct {
	id         string
	kind       string
	states     map[State]bool
	table      map[State]map[Event][]*TransitionDef[C]
	hooks      Hooks[C]
	maxHistory int
	clock      func() time.Time
	logger     zerolog.Logger
	observer   Observer

	state     State
	context   C
	history   []TransitionRecord
	createdAt time.Time
	updatedAt time.Time
}

// New builds a Machine from its configuration, applying `opts` first.
//
// The transition table is validated here: all states referenced by the transitions must
// be declared, the same (from, event, to) cannot be defined twice, and there can only be
// one unguarded definition for any (from, event) pair.
func New[C any](cfg Config[C], opts ...Option[C]) (*Machine[C], error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.States) == 0 {
		return nil, ErrMissingStates
	}
	states := make(map[State]bool, len(cfg.States))
	for _, s := range cfg.States {
		states[s] = true
	}
	if !states[cfg.Initial] {
		return nil, fmt.Errorf("initial state %q: %w", cfg.Initial, ErrUndeclaredState)
	}
	table, err := buildTable(states, cfg.Transitions)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("kind", cfg.Kind).Str("id", cfg.ID).Logger()
	} else {
		logger = zlog.With().Str("logger", "fsm").Str("kind", cfg.Kind).Str("id", cfg.ID).Logger()
	}
	var observer Observer = nopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}
	now := clock()
	return &Machine[C]{
		id:         cfg.ID,
		kind:       cfg.Kind,
		states:     states,
		table:      table,
		hooks:      cfg.Hooks,
		maxHistory: maxHistory,
		clock:      clock,
		logger:     logger,
		observer:   observer,
		state:      cfg.Initial,
		context:    cfg.Context,
		history:    make([]TransitionRecord, 0),
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// MustNew is like New, but panics if the configuration is invalid; use it only for
// statically defined transition tables, where an error is a programming bug.
func MustNew[C any](cfg Config[C], opts ...Option[C]) *Machine[C] {
	m, err := New(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("invalid %s state machine configuration: %v", cfg.Kind, err))
	}
	return m
}

func buildTable[C any](states map[State]bool, defs []TransitionDef[C]) (map[State]map[Event][]*TransitionDef[C], error) {
	table := make(map[State]map[Event][]*TransitionDef[C])
	for i := range defs {
		def := defs[i]
		if def.Event == "" {
			return nil, ErrMissingEvent
		}
		if !states[def.To] {
			return nil, fmt.Errorf("%s destination %q: %w", def.Event, def.To, ErrUndeclaredState)
		}
		if len(def.From) == 0 {
			return nil, fmt.Errorf("%s has no source state: %w", def.Event, ErrUndeclaredState)
		}
		for _, from := range def.From {
			if !states[from] {
				return nil, fmt.Errorf("%s source %q: %w", def.Event, from, ErrUndeclaredState)
			}
			byEvent, ok := table[from]
			if !ok {
				byEvent = make(map[Event][]*TransitionDef[C])
				table[from] = byEvent
			}
			for _, other := range byEvent[def.Event] {
				if other.To == def.To {
					return nil, fmt.Errorf("%s from %q to %q: %w", def.Event, from, def.To,
						ErrDuplicateTransition)
				}
				if other.Guard == nil && def.Guard == nil {
					return nil, fmt.Errorf("%s from %q: %w", def.Event, from, ErrAmbiguousTransition)
				}
			}
			byEvent[def.Event] = append(byEvent[def.Event], &def)
		}
	}
	return table, nil
}

func (m *Machine[C]) ID() string {
	return m.id
}

func (m *Machine[C]) Kind() string {
	return m.kind
}

func (m *Machine[C]) State() State {
	return m.state
}

// In is true if the current state is any of `states`.
func (m *Machine[C]) In(states ...State) bool {
	for _, s := range states {
		if s == m.state {
			return true
		}
	}
	return false
}

// Context returns a copy of the current context; changing it has no effect on the Machine.
func (m *Machine[C]) Context() C {
	return clone(m.context)
}

func (m *Machine[C]) CreatedAt() time.Time {
	return m.createdAt
}

func (m *Machine[C]) UpdatedAt() time.Time {
	return m.updatedAt
}

// History returns a copy of the (capped) transition history, oldest first.
func (m *Machine[C]) History() []TransitionRecord {
	return cloneHistory(m.history)
}

// SetContext applies `update` to the context.
// It never changes the state, nor adds to the history, nor runs any hook.
func (m *Machine[C]) SetContext(update func(*C)) {
	update(&m.context)
	m.updatedAt = m.clock()
}

// MergeContext shallow-merges a partial JSON document onto the context: fields which
// are absent from `patch` keep their current values.
// On error, the context is left unchanged.
func (m *Machine[C]) MergeContext(patch []byte) error {
	next := clone(m.context)
	if err := json.Unmarshal(patch, &next); err != nil {
		return fmt.Errorf("cannot merge context for %s#%s: %w", m.kind, m.id, err)
	}
	m.context = next
	m.updatedAt = m.clock()
	return nil
}

// CanTransition evaluates `evt` against the current state and context without
// committing anything.
func (m *Machine[C]) CanTransition(evt Event) (bool, *Denial) {
	res, _ := m.evaluate(evt)
	return res.Denial == nil, res.Denial
}

// Enabled lists the destinations of all the definitions of `evt` from the current state
// whose guard passes; Transition takes the first one, so tables whose guards are mutually
// exclusive never list more than one.
func (m *Machine[C]) Enabled(evt Event) []State {
	var to []State
	for _, def := range m.table[m.state][evt] {
		if def.Guard == nil || def.Guard(m.context, m.state, def.To, evt) {
			to = append(to, def.To)
		}
	}
	return to
}

// AvailableEvents lists, sorted, the events that would currently be allowed.
func (m *Machine[C]) AvailableEvents() []Event {
	events := make([]Event, 0)
	for evt := range m.table[m.state] {
		if ok, _ := m.CanTransition(evt); ok {
			events = append(events, evt)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// Transition attempts to move the machine via `evt`.
//
// If allowed, the new state is committed and recorded in the history before any hook
// runs; then the exit hook of the source state, the enter hook of the destination state
// and the generic transition hooks are invoked, in this order.
// Hook failures do not roll back the transition: they are returned in Result.HookErrors.
func (m *Machine[C]) Transition(ctx context.Context, evt Event, md Metadata) *Result {
	res, def := m.evaluate(evt)
	if res.Denial != nil {
		m.logger.Debug().
			Str("event", string(evt)).
			Str("state", string(m.state)).
			Str("reason", string(res.Denial.Reason)).
			Msg(res.Denial.Description)
		m.observer.ObserveDenial(m.kind, *res.Denial)
		return res
	}
	now := m.clock()
	rec := TransitionRecord{
		ID:        uuid.NewString(),
		From:      m.state,
		To:        def.To,
		Event:     evt,
		Timestamp: now,
		Metadata:  md.Clone(),
	}
	m.state = def.To
	m.updatedAt = now
	m.history = append(m.history, rec)
	m.prune()
	res.Record = &rec
	m.logger.Debug().Msgf("%s: %s -> %s", evt, rec.From, rec.To)
	m.observer.ObserveTransition(m.kind, rec)

	if hook := m.hooks.OnExit[rec.From]; hook != nil {
		m.collect(res, &HookError{Hook: "exit", State: rec.From}, hook(ctx, m, rec))
	}
	if hook := m.hooks.OnEnter[rec.To]; hook != nil {
		m.collect(res, &HookError{Hook: "enter", State: rec.To}, hook(ctx, m, rec))
	}
	for _, hook := range m.hooks.OnTransition {
		m.collect(res, &HookError{Hook: "transition"}, hook(ctx, m, rec))
	}
	return res
}

// Fire is Transition for call sites without a context.Context of their own.
func (m *Machine[C]) Fire(evt Event, md Metadata) *Result {
	return m.Transition(context.Background(), evt, md)
}

// Serialize captures the full state of the Machine.
func (m *Machine[C]) Serialize() Snapshot[C] {
	return Snapshot[C]{
		ID:           m.id,
		CurrentState: m.state,
		Context:      clone(m.context),
		History:      cloneHistory(m.history),
		CreatedAt:    m.createdAt,
		UpdatedAt:    m.updatedAt,
	}
}

// Restore replaces state, context and history with those in `snapshot`.
//
// It fails, leaving the Machine untouched, if the snapshot belongs to a different entity
// or its state is not one of this Machine's states.
func (m *Machine[C]) Restore(snapshot Snapshot[C]) error {
	if snapshot.ID != m.id {
		return fmt.Errorf("snapshot %q cannot be restored into %s#%s: %w",
			snapshot.ID, m.kind, m.id, ErrSnapshotMismatch)
	}
	if !m.states[snapshot.CurrentState] {
		return fmt.Errorf("snapshot state %q for %s#%s: %w",
			snapshot.CurrentState, m.kind, m.id, ErrUndeclaredState)
	}
	m.state = snapshot.CurrentState
	m.context = clone(snapshot.Context)
	m.history = cloneHistory(snapshot.History)
	m.prune()
	m.createdAt = snapshot.CreatedAt
	m.updatedAt = snapshot.UpdatedAt
	return nil
}

func (m *Machine[C]) evaluate(evt Event) (*Result, *TransitionDef[C]) {
	res := &Result{Event: evt, From: m.state}
	candidates := m.table[m.state][evt]
	if len(candidates) == 0 {
		res.Denial = &Denial{Reason: NoTransition, From: m.state, Event: evt}
		return res, nil
	}
	for _, def := range candidates {
		if def.Guard == nil || def.Guard(m.context, m.state, def.To, evt) {
			res.To = def.To
			return res, def
		}
	}
	res.Denial = &Denial{
		Reason:      GuardFailed,
		From:        m.state,
		Event:       evt,
		Description: candidates[0].Description,
	}
	return res, nil
}

// prune evicts the oldest records beyond maxHistory.
func (m *Machine[C]) prune() {
	excess := len(m.history) - m.maxHistory
	if excess <= 0 {
		return
	}
	n := copy(m.history, m.history[excess:])
	clear(m.history[n:])
	m.history = m.history[:n]
}

func (m *Machine[C]) collect(res *Result, herr *HookError, err error) {
	if err == nil {
		return
	}
	herr.Err = err
	res.HookErrors = append(res.HookErrors, herr)
	m.logger.Error().Err(err).
		Str("event", string(res.Event)).
		Str("hook", herr.Hook).
		Msg("transition committed, but hook failed")
	m.observer.ObserveHookError(m.kind, res.Event, herr)
}

// clone deep-copies `c`: contexts which are not a Cloner go through the same JSON encoding
// as their snapshots, and are only copied by value if they cannot be encoded at all.
func clone[C any](c C) C {
	if cl, ok := any(c).(Cloner[C]); ok {
		return cl.Clone()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out C
	if err = json.Unmarshal(data, &out); err != nil {
		return c
	}
	return out
}

func cloneHistory(history []TransitionRecord) []TransitionRecord {
	out := make([]TransitionRecord, len(history))
	for i, rec := range history {
		rec.Metadata = rec.Metadata.Clone()
		out[i] = rec
	}
	return out
}
