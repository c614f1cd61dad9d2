/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

// InMemoryStore is a StoreManager for tests and single-process deployments; nothing
// survives a restart.
type InMemoryStore struct {
	logger    zerolog.Logger
	mux       sync.RWMutex
	snapshots map[string][]byte
	byState   map[string]map[string]bool
	audit     map[string][][]byte
}

func NewInMemoryStore() StoreManager {
	return &InMemoryStore{
		logger:    zlog.With().Str("logger", "memory-store").Logger(),
		snapshots: make(map[string][]byte),
		byState:   make(map[string]map[string]bool),
		audit:     make(map[string][][]byte),
	}
}

func (csm *InMemoryStore) GetSnapshot(_ context.Context, kind, id string) ([]byte, StoreErr) {
	csm.mux.RLock()
	defer csm.mux.RUnlock()

	key := NewKeyForMachine(kind, id)
	data, ok := csm.snapshots[key]
	if !ok {
		csm.logger.Debug().Msgf("Key `%s` not found", key)
		return nil, NotFoundError(key)
	}
	return append([]byte(nil), data...), nil
}

func (csm *InMemoryStore) PutSnapshot(_ context.Context, kind, id string, snapshot []byte) StoreErr {
	state, err := stateOf(snapshot)
	if err != nil {
		return err
	}
	csm.mux.Lock()
	defer csm.mux.Unlock()

	key := NewKeyForMachine(kind, id)
	if prev, ok := csm.snapshots[key]; ok {
		if old, err := stateOf(prev); err == nil {
			delete(csm.byState[NewKeyForMachinesByState(kind, string(old))], id)
		}
	}
	csm.snapshots[key] = append([]byte(nil), snapshot...)
	setKey := NewKeyForMachinesByState(kind, string(state))
	if csm.byState[setKey] == nil {
		csm.byState[setKey] = make(map[string]bool)
	}
	csm.byState[setKey][id] = true
	csm.logger.Trace().Msgf("stored value for key `%s`", key)
	return nil
}

func (csm *InMemoryStore) GetAllInState(_ context.Context, kind string, state fsm.State) ([]string, StoreErr) {
	csm.mux.RLock()
	defer csm.mux.RUnlock()

	ids := make([]string, 0)
	for id := range csm.byState[NewKeyForMachinesByState(kind, string(state))] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (csm *InMemoryStore) AppendRecord(_ context.Context, kind, id string, rec fsm.TransitionRecord) StoreErr {
	data, err := json.Marshal(rec)
	if err != nil {
		return InvalidDataError(err.Error())
	}
	csm.mux.Lock()
	defer csm.mux.Unlock()
	key := NewKeyForAudit(kind, id)
	csm.audit[key] = append(csm.audit[key], data)
	return nil
}

func (csm *InMemoryStore) GetRecords(_ context.Context, kind, id string) ([]fsm.TransitionRecord, StoreErr) {
	csm.mux.RLock()
	defer csm.mux.RUnlock()
	return decodeRecords(csm.audit[NewKeyForAudit(kind, id)])
}

func (csm *InMemoryStore) SetTimeout(_ time.Duration) {
	// Not implemented for InMemoryStore
}

func (csm *InMemoryStore) GetTimeout() time.Duration {
	return NeverExpire
}

func (csm *InMemoryStore) Health(_ context.Context) StoreErr {
	return nil
}

func decodeRecords[T []byte | string](entries []T) ([]fsm.TransitionRecord, StoreErr) {
	records := make([]fsm.TransitionRecord, 0, len(entries))
	for _, e := range entries {
		var rec fsm.TransitionRecord
		if err := json.Unmarshal([]byte(e), &rec); err != nil {
			return nil, InvalidDataError(err.Error())
		}
		records = append(records, rec)
	}
	return records, nil
}
