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
	"time"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

// SnapshotStore persists the JSON-encoded fsm.Snapshot of machines, grouped by `kind`.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, kind, id string) ([]byte, StoreErr)

	// PutSnapshot creates or replaces the snapshot for `id`, and moves `id` to the SET of the
	// machines in the snapshot's `currentState`, removing it from the one it was in before.
	PutSnapshot(ctx context.Context, kind, id string, snapshot []byte) StoreErr

	// GetAllInState returns the IDs of all the machines of `kind` currently in `state`.
	GetAllInState(ctx context.Context, kind string, state fsm.State) ([]string, StoreErr)
}

// AuditLog is an append-only log of the transitions committed by each machine.
type AuditLog interface {
	AppendRecord(ctx context.Context, kind, id string, rec fsm.TransitionRecord) StoreErr

	// GetRecords returns every record appended for `id`, oldest first.
	GetRecords(ctx context.Context, kind, id string) ([]fsm.TransitionRecord, StoreErr)
}

type StoreManager interface {
	SnapshotStore
	AuditLog
	SetTimeout(duration time.Duration)
	GetTimeout() time.Duration
	Health(ctx context.Context) StoreErr
}
