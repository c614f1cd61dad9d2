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
	"context"
	"errors"
	"fmt"

	zlog "github.com/rs/zerolog/log"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

func NewEventsListener(options *ListenerOptions) *EventsListener {
	drivers := make(map[string]fsm.Driver, len(options.Drivers))
	for _, d := range options.Drivers {
		drivers[d.Kind()] = d
	}
	return &EventsListener{
		logger:        zlog.With().Str("logger", "listener").Logger(),
		events:        options.EventsChannel,
		store:         options.Store,
		notifications: options.NotificationsChannel,
		drivers:       drivers,
	}
}

// ListenForMessages processes requests until the events channel is closed, or `ctx` is
// done. It is the only writer of the machines' snapshots, so requests are applied one at a
// time.
func (listener *EventsListener) ListenForMessages(ctx context.Context) {
	listener.logger.Info().Msg("Events message listener started")
	for {
		select {
		case <-ctx.Done():
			listener.logger.Info().Msg("Events message listener stopped")
			return
		case request, ok := <-listener.events:
			if !ok {
				listener.logger.Info().Msg("Events channel closed, listener exiting")
				return
			}
			listener.logger.Debug().Msgf("Received request %s for [%s#%s]",
				request.Event, request.Kind, request.ID)
			listener.PostNotificationAndReportOutcome(ctx, listener.Process(ctx, request))
		}
	}
}

// PostNotificationAndReportOutcome logs failed outcomes and posts every outcome to the
// notifications channel, if any; it gives up on posting if `ctx` is done first.
func (listener *EventsListener) PostNotificationAndReportOutcome(ctx context.Context, outcome EventOutcome) {
	if outcome.Code != Ok {
		listener.logger.Error().
			Str("event_id", outcome.EventID).
			Str("code", string(outcome.Code)).
			Msg(outcome.Details)
	}
	if listener.notifications != nil {
		listener.logger.Debug().Msgf("posting notification: %v", outcome.EventID)
		select {
		case listener.notifications <- outcome:
		case <-ctx.Done():
			listener.logger.Warn().
				Str("event_id", outcome.EventID).
				Msg("notification dropped, listener is stopping")
		}
	}
}

// Process loads the destination machine, applies the request and saves the machine back if
// the transition was committed.
func (listener *EventsListener) Process(ctx context.Context, request EventRequest) EventOutcome {
	if request.ID == "" {
		return makeOutcome(request, MissingDestination, "no statemachine ID specified")
	}
	driver, found := listener.drivers[request.Kind]
	if !found {
		return makeOutcome(request, UnknownKind,
			fmt.Sprintf("no statemachine of kind `%s`", request.Kind))
	}
	snapshot, err := listener.store.GetSnapshot(ctx, request.Kind, request.ID)
	if err != nil {
		code := InternalError
		if storage.IsNotFoundErr(err) {
			code = FsmNotFound
		}
		return makeOutcome(request, code, fmt.Sprintf("could not load statemachine [%s#%s]: %v",
			request.Kind, request.ID, err))
	}
	updated, res, err := driver.Apply(ctx, snapshot, fsm.Request{
		Event:    request.Event,
		Patch:    request.Patch,
		Metadata: request.Metadata,
	})
	if err != nil {
		return makeOutcome(request, InternalError, err.Error())
	}
	outcome := makeOutcome(request, Ok, "")
	outcome.From, outcome.To = res.From, res.To
	switch res.Denied() {
	case fsm.NoTransition:
		outcome.Code, outcome.Details = TransitionNotAllowed, res.Denial.Error()
		return outcome
	case fsm.GuardFailed:
		outcome.Code, outcome.Details = GuardFailed, res.Denial.Error()
		return outcome
	}
	if err = listener.store.PutSnapshot(ctx, request.Kind, request.ID, updated); err != nil {
		return makeOutcome(request, InternalError, fmt.Sprintf(
			"could not update statemachine [%s#%s] in store: %v", request.Kind, request.ID, err))
	}
	if len(res.HookErrors) > 0 {
		outcome.Code, outcome.Details = HookFailed, errors.Join(res.HookErrors...).Error()
		return outcome
	}
	listener.logger.Debug().Msgf("Event `%s` moved [%s#%s] from `%s` to `%s`",
		request.Event, request.Kind, request.ID, res.From, res.To)
	return outcome
}

func makeOutcome(request EventRequest, code OutcomeCode, details string) EventOutcome {
	return EventOutcome{
		EventID: request.EventID,
		Kind:    request.Kind,
		ID:      request.ID,
		Code:    code,
		Details: details,
	}
}
