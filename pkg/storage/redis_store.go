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
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const ReturningItemsFmt = "Returning %d items"

type RedisStore struct {
	logger     zerolog.Logger
	client     redis.UniversalClient
	Timeout    time.Duration
	MaxRetries int
}

/////// Internal methods

// get looks up `key`, retrying up to MaxRetries times if the lookup times out.
func (csm *RedisStore) get(ctx context.Context, key string) ([]byte, StoreErr) {
	attemptsLeft := csm.MaxRetries
	csm.logger.Trace().Msgf("Looking up key `%s` (Max retries: %d)", key, attemptsLeft)
	for {
		attemptsLeft--
		data, err := csm.attempt(ctx, func(ctx context.Context) ([]byte, error) {
			return csm.client.Get(ctx, key).Bytes()
		})
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, redis.Nil):
			// The key isn't there, no point in retrying
			csm.logger.Debug().Msgf("Key `%s` not found", key)
			return nil, NotFoundError(key)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			csm.logger.Error().Err(err).Msg("redis get timeout")
			if attemptsLeft <= 0 {
				csm.logger.Error().Msg("max retries reached, giving up")
				return nil, TooManyAttempts(key)
			}
			csm.logger.Trace().Msgf("retrying after timeout, attempts left: %d", attemptsLeft)
			csm.wait()
		default:
			csm.logger.Error().Err(err).Msg("redis get error")
			return nil, GenericStoreError(err.Error())
		}
	}
}

// attempt runs `op` bound by the store Timeout.
func (csm *RedisStore) attempt(ctx context.Context, op func(context.Context) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, csm.Timeout)
	defer cancel()
	return op(ctx)
}

// wait sleeps for a random time between 0 and half a second before the next attempt.
func (csm *RedisStore) wait() {
	waitForMsec := rand.Intn(500)
	time.Sleep(time.Duration(waitForMsec) * time.Millisecond)
}

/////// StoreManager implementation

// Health checks that Redis is ready to accept connections
func (csm *RedisStore) Health(ctx context.Context) StoreErr {
	ctx, cancel := context.WithTimeout(ctx, csm.Timeout)
	defer cancel()

	_, err := csm.client.Ping(ctx).Result()
	if err != nil {
		csm.logger.Error().Err(err).Msg("error pinging redis")
		return GenericStoreError(err.Error())
	}
	return nil
}

func (csm *RedisStore) SetTimeout(duration time.Duration) {
	csm.Timeout = duration
}

func (csm *RedisStore) GetTimeout() time.Duration {
	return csm.Timeout
}

/////// SnapshotStore implementation

func (csm *RedisStore) GetSnapshot(ctx context.Context, kind, id string) ([]byte, StoreErr) {
	key := NewKeyForMachine(kind, id)
	data, err := csm.get(ctx, key)
	if err != nil {
		csm.logger.Error().Err(err).Msgf("error getting FSM %s", key)
		return nil, err
	}
	return data, nil
}

// PutSnapshot stores the snapshot and updates the state SETs in a single transaction,
// which is retried if the snapshot is concurrently modified.
func (csm *RedisStore) PutSnapshot(ctx context.Context, kind, id string, snapshot []byte) StoreErr {
	newState, serr := stateOf(snapshot)
	if serr != nil {
		return serr
	}
	ctx, cancel := context.WithTimeout(ctx, csm.Timeout)
	defer cancel()

	key := NewKeyForMachine(kind, id)
	// See Tx example at https://redis.uptrace.dev/guide/go-redis-pipelines.html#transactions
	txf := func(tx *redis.Tx) error {
		var oldState fsm.State
		prev, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if prev != nil {
			// An unreadable previous snapshot is replaced; it cannot be in any SET.
			oldState, _ = stateOf(prev)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, snapshot, NeverExpire)
			if oldState != "" && oldState != newState {
				pipe.SRem(ctx, NewKeyForMachinesByState(kind, string(oldState)), id)
			}
			pipe.SAdd(ctx, NewKeyForMachinesByState(kind, string(newState)), id)
			return nil
		})
		return err
	}
	for i := 0; i < csm.MaxRetries; i++ {
		csm.logger.Trace().Msgf("(%d) watching %s", i, key)
		err := csm.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			csm.logger.Trace().Msgf("(%d) Tx failed, retrying", i)
			continue
		}
		if err != nil {
			csm.logger.Error().Err(err).Msgf("could not store FSM %s", key)
			return GenericStoreError(err.Error())
		}
		csm.logger.Debug().Msgf("stored value for key `%s` in state `%s`", key, newState)
		return nil
	}
	return TooManyAttempts(key)
}

func (csm *RedisStore) GetAllInState(ctx context.Context, kind string, state fsm.State) ([]string, StoreErr) {
	// TODO: enable splitting results with a (cursor, count)
	csm.logger.Debug().Msgf("Looking up all FSMs [%s] in DB with state `%s`", kind, state)
	ctx, cancel := context.WithTimeout(ctx, csm.Timeout)
	defer cancel()

	ids, err := csm.client.SMembers(ctx, NewKeyForMachinesByState(kind, string(state))).Result()
	if err != nil {
		csm.logger.Error().Err(err).Msgf("Could not retrieve FSMs for state %s", state)
		return nil, GenericStoreError(err.Error())
	}
	sort.Strings(ids)
	csm.logger.Debug().Msgf(ReturningItemsFmt, len(ids))
	return ids, nil
}

/////// AuditLog implementation

func (csm *RedisStore) AppendRecord(ctx context.Context, kind, id string, rec fsm.TransitionRecord) StoreErr {
	data, err := json.Marshal(rec)
	if err != nil {
		return InvalidDataError(err.Error())
	}
	ctx, cancel := context.WithTimeout(ctx, csm.Timeout)
	defer cancel()

	key := NewKeyForAudit(kind, id)
	if err = csm.client.RPush(ctx, key, data).Err(); err != nil {
		csm.logger.Error().Err(err).Msgf("could not append to %s", key)
		return GenericStoreError(err.Error())
	}
	return nil
}

func (csm *RedisStore) GetRecords(ctx context.Context, kind, id string) ([]fsm.TransitionRecord, StoreErr) {
	ctx, cancel := context.WithTimeout(ctx, csm.Timeout)
	defer cancel()

	entries, err := csm.client.LRange(ctx, NewKeyForAudit(kind, id), 0, -1).Result()
	if err != nil {
		return nil, GenericStoreError(err.Error())
	}
	csm.logger.Debug().Msgf(ReturningItemsFmt, len(entries))
	return decodeRecords(entries)
}

/////// Constructor methods

// NewRedisStoreWithDefaults creates a new StoreManager backed by a single Redis node, with
// all default settings.
func NewRedisStoreWithDefaults(address string) StoreManager {
	return NewRedisStore(address, false, DefaultRedisDb, DefaultTimeout, DefaultMaxRetries)
}

// NewRedisStore creates a new StoreManager backed by Redis, reachable at address, in
// cluster configuration if isCluster is set to true (`address` is then a comma-separated
// list of nodes).
// The db value indicates which database to use.
//
// Lookups will be retried up to maxRetries times, if they time out after timeout expires;
// set `REDIS_TLS` in the environment to connect over TLS.
// Use the [Health] function to check whether the store is reachable.
func NewRedisStore(address string, isCluster bool, db int, timeout time.Duration, maxRetries int) StoreManager {
	logger := zlog.With().Str("logger", fmt.Sprintf("redis://%s/%d", address, db)).Logger()

	var tlsConfig *tls.Config
	var client redis.UniversalClient

	if os.Getenv("REDIS_TLS") != "" {
		logger.Info().Msg("Using TLS for Redis connection")
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if isCluster {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			TLSConfig: tlsConfig,
			Addrs:     strings.Split(address, ","),
		})
	} else {
		client = redis.NewClient(&redis.Options{
			TLSConfig: tlsConfig,
			Addr:      address,
			DB:        db,
		})
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RedisStore{
		logger:     logger,
		client:     client,
		Timeout:    timeout,
		MaxRetries: maxRetries,
	}
}
