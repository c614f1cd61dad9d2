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
	"errors"
	"fmt"
)

type DenialReason string

const (
	NoTransition DenialReason = "no_transition"
	GuardFailed  DenialReason = "guard_failed"
)

// Denial is returned when a transition is not allowed by the rules.
// It is an ordinary business outcome, not a failure of the machine.
type Denial struct {
	Reason      DenialReason `json:"reason"`
	From        State        `json:"from"`
	Event       Event        `json:"event"`
	Description string       `json:"description,omitempty"`
}

func (d *Denial) Error() string {
	if d.Reason == GuardFailed {
		return fmt.Sprintf("%s denied in state %s: %s", d.Event, Label(d.From), d.Description)
	}
	return fmt.Sprintf("no %s transition from state %s", d.Event, Label(d.From))
}

// Result is the outcome of a transition attempt.
//
// Exactly one of Record and Denial is set. HookErrors collects the failures of the hooks
// that ran after the commit: the transition is still committed when they are not empty.
type Result struct {
	Event      Event
	From       State
	To         State
	Record     *TransitionRecord
	Denial     *Denial
	HookErrors []error
}

// OK is true when the transition was committed, regardless of hook failures.
func (r *Result) OK() bool {
	return r != nil && r.Record != nil
}

// Denied returns the reason the transition was refused, or an empty string.
func (r *Result) Denied() DenialReason {
	if r == nil || r.Denial == nil {
		return ""
	}
	return r.Denial.Reason
}

// Err folds the Result into a single error: the Denial, or all the hook errors joined,
// or nil for a clean commit.
func (r *Result) Err() error {
	if r.Denial != nil {
		return r.Denial
	}
	return errors.Join(r.HookErrors...)
}

// HookError wraps the failure of a single hook, naming which one failed.
type HookError struct {
	Hook  string
	State State
	Err   error
}

func (e *HookError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s hook for %s failed: %v", e.Hook, e.State, e.Err)
	}
	return fmt.Sprintf("%s hook failed: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
