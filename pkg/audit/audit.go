/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package audit records every committed transition, for compliance replay.
//
// A Sink is attached to a machine as its generic on-transition hook (see Hook); a failing
// sink never rolls back the transition, but its error is reported in the fsm.Result.
package audit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

// Entry is one append-only audit record.
type Entry struct {
	Kind      string               `json:"kind"`
	MachineID string               `json:"machineId"`
	Record    fsm.TransitionRecord `json:"record"`
}

type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, entry Entry) error

func (f SinkFunc) Write(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// Hook writes every transition of the machine it is attached to into `sink`.
func Hook[C any](sink Sink) fsm.Hook[C] {
	return func(ctx context.Context, m *fsm.Machine[C], rec fsm.TransitionRecord) error {
		return sink.Write(ctx, Entry{Kind: m.Kind(), MachineID: m.ID(), Record: rec})
	}
}

// Option attaches `sink` to a machine, for use with the domain constructors.
func Option[C any](sink Sink) fsm.Option[C] {
	return fsm.WithTransitionHook(Hook[C](sink))
}

// StoreSink appends entries to a storage.AuditLog.
type StoreSink struct {
	Log storage.AuditLog
}

func (s StoreSink) Write(ctx context.Context, entry Entry) error {
	return s.Log.AppendRecord(ctx, entry.Kind, entry.MachineID, entry.Record)
}

// LogSink emits one structured log line per entry.
type LogSink struct {
	Logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{Logger: zlog.With().Str("logger", "audit").Logger()}
}

func (s *LogSink) Write(_ context.Context, entry Entry) error {
	rec := entry.Record
	evt := s.Logger.Info().
		Str("kind", entry.Kind).
		Str("id", entry.MachineID).
		Str("record_id", rec.ID).
		Str("from", string(rec.From)).
		Str("to", string(rec.To)).
		Str("event", string(rec.Event)).
		Time("at", rec.Timestamp)
	if !rec.Metadata.IsZero() {
		evt = evt.Interface("metadata", rec.Metadata)
	}
	evt.Msg("transition")
	return nil
}

// MultiSink writes to all its sinks, even when some fail, and joins their errors.
type MultiSink []Sink

func (ms MultiSink) Write(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range ms {
		if err := s.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
