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
	"time"

	"github.com/rs/zerolog"
)

// Option customizes a Config before the Machine is built; the domain machines accept
// them so that callers can add audit hooks, metrics and test clocks.
type Option[C any] func(*Config[C])

func WithLogger[C any](logger zerolog.Logger) Option[C] {
	return func(c *Config[C]) {
		c.Logger = &logger
	}
}

func WithClock[C any](clock func() time.Time) Option[C] {
	return func(c *Config[C]) {
		c.Clock = clock
	}
}

func WithMaxHistory[C any](size int) Option[C] {
	return func(c *Config[C]) {
		c.MaxHistory = size
	}
}

// WithTransitionHook appends a generic hook, run after all the others already configured.
func WithTransitionHook[C any](hook Hook[C]) Option[C] {
	return func(c *Config[C]) {
		c.Hooks.OnTransition = append(c.Hooks.OnTransition, hook)
	}
}

func WithObserver[C any](observer Observer) Option[C] {
	return func(c *Config[C]) {
		c.Observer = observer
	}
}

// Observer is notified of every outcome of a Machine; it must not block.
type Observer interface {
	ObserveTransition(kind string, rec TransitionRecord)
	ObserveDenial(kind string, denial Denial)
	ObserveHookError(kind string, evt Event, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(string, TransitionRecord) {}
func (nopObserver) ObserveDenial(string, Denial)               {}
func (nopObserver) ObserveHookError(string, Event, error)      {}
