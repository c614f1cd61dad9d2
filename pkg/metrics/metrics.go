/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package metrics exports Prometheus counters for the transitions of all machines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const namespace = "lifecycle"

// Collector implements fsm.Observer; a single Collector is shared by all the machines.
type Collector struct {
	Transitions *prometheus.CounterVec
	Denials     *prometheus.CounterVec
	HookErrors  *prometheus.CounterVec
}

// NewCollector creates the counters and registers them with `reg`.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed transitions, by machine kind.",
		}, []string{"machine", "from", "to", "event"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denials_total",
			Help:      "Events refused by a machine, by reason.",
		}, []string{"machine", "event", "reason"}),
		HookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_errors_total",
			Help:      "Hooks which failed after a transition was committed.",
		}, []string{"machine", "event"}),
	}
	for _, cv := range []prometheus.Collector{c.Transitions, c.Denials, c.HookErrors} {
		if err := reg.Register(cv); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveTransition(kind string, rec fsm.TransitionRecord) {
	c.Transitions.WithLabelValues(kind, string(rec.From), string(rec.To), string(rec.Event)).Inc()
}

func (c *Collector) ObserveDenial(kind string, d fsm.Denial) {
	c.Denials.WithLabelValues(kind, string(d.Event), string(d.Reason)).Inc()
}

func (c *Collector) ObserveHookError(kind string, evt fsm.Event, _ error) {
	c.HookErrors.WithLabelValues(kind, string(evt)).Inc()
}

// Option reports the transitions of a machine to `c`.
func Option[C any](c *Collector) fsm.Option[C] {
	return fsm.WithObserver[C](c)
}
