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

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

// Save stores the current snapshot of `m`.
func Save[C any](ctx context.Context, store SnapshotStore, m *fsm.Machine[C]) StoreErr {
	data, err := json.Marshal(m.Serialize())
	if err != nil {
		return InvalidDataError(err.Error())
	}
	return store.PutSnapshot(ctx, m.Kind(), m.ID(), data)
}

// Load retrieves the snapshot of the `kind` machine with the given `id`; pass it to the
// domain Restore function to get a live machine.
func Load[C any](ctx context.Context, store SnapshotStore, kind, id string) (fsm.Snapshot[C], StoreErr) {
	var snapshot fsm.Snapshot[C]
	data, err := store.GetSnapshot(ctx, kind, id)
	if err != nil {
		return snapshot, err
	}
	if err = json.Unmarshal(data, &snapshot); err != nil {
		return snapshot, InvalidDataError(err.Error())
	}
	return snapshot, nil
}

// stateOf extracts the `currentState` of a JSON snapshot, without decoding its context.
func stateOf(data []byte) (fsm.State, StoreErr) {
	var header struct {
		CurrentState fsm.State `json:"currentState"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return "", InvalidDataError(err.Error())
	}
	if header.CurrentState == "" {
		return "", InvalidDataError("snapshot without a currentState")
	}
	return header.CurrentState, nil
}
