/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package prediction manages a prediction market, from its draft to the payout of the
// winning outcome; markets can be disputed once trading closes, or voided altogether.
package prediction

import (
	"context"
	"time"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const Kind = "prediction"

const (
	Draft             fsm.State = "draft"
	Open              fsm.State = "open"
	Trading           fsm.State = "trading"
	Closing           fsm.State = "closing"
	ResolutionPending fsm.State = "resolution_pending"
	Resolved          fsm.State = "resolved"
	Settled           fsm.State = "settled"
	Disputed          fsm.State = "disputed"
	Voided            fsm.State = "voided"
)

const (
	Publish           fsm.Event = "PUBLISH"
	StartTrading      fsm.Event = "START_TRADING"
	CloseTrading      fsm.Event = "CLOSE_TRADING"
	RequestResolution fsm.Event = "REQUEST_RESOLUTION"
	Resolve           fsm.Event = "RESOLVE"
	Settle            fsm.Event = "SETTLE"
	Dispute           fsm.Event = "DISPUTE"
	ResolveDispute    fsm.Event = "RESOLVE_DISPUTE"
	Void              fsm.Event = "VOID"
)

var (
	States = []fsm.State{
		Draft, Open, Trading, Closing, ResolutionPending, Resolved, Settled, Disputed, Voided,
	}
	DisputableStates = []fsm.State{Closing, ResolutionPending, Resolved}
	VoidableStates   = []fsm.State{Closing, ResolutionPending, Disputed}
)

// MinOutcomes is the least number of outcomes a market can be published with.
const MinOutcomes = 2

type Context struct {
	MarketID         string     `json:"marketId"`
	Question         string     `json:"question,omitempty"`
	Outcomes         []string   `json:"outcomes"`
	ValidMetadata    bool       `json:"validMetadata"`
	OpensAt          *time.Time `json:"opensAt,omitempty"`
	ClosesAt         *time.Time `json:"closesAt,omitempty"`
	TradingOpenedAt  *time.Time `json:"tradingOpenedAt,omitempty"`
	TradingClosedAt  *time.Time `json:"tradingClosedAt,omitempty"`
	ResolutionSource string     `json:"resolutionSource,omitempty"`
	WinningOutcome   *int       `json:"winningOutcome,omitempty"`
	ResolutionProof  string     `json:"resolutionProof,omitempty"`
	DisputeReason    string     `json:"disputeReason,omitempty"`
	DisputeFiledBy   string     `json:"disputeFiledBy,omitempty"`
	AdminAction      bool       `json:"adminAction"`
	VoidReason       string     `json:"voidReason,omitempty"`
}

func (c Context) Clone() Context {
	c.Outcomes = append([]string(nil), c.Outcomes...)
	c.OpensAt = copyTime(c.OpensAt)
	c.ClosesAt = copyTime(c.ClosesAt)
	c.TradingOpenedAt = copyTime(c.TradingOpenedAt)
	c.TradingClosedAt = copyTime(c.TradingClosedAt)
	if c.WinningOutcome != nil {
		w := *c.WinningOutcome
		c.WinningOutcome = &w
	}
	return c
}

func NewContext(marketID, question string, outcomes ...string) Context {
	return Context{
		MarketID: marketID,
		Question: question,
		Outcomes: append([]string(nil), outcomes...),
	}
}

// Outcome returns a pointer to `i`, to set Context.WinningOutcome.
func Outcome(i int) *int {
	return &i
}

// WinningOutcomeName is the name of the winning outcome, or an empty string while the
// market is unresolved.
func WinningOutcomeName(c Context) string {
	if !hasValidWinner(c) {
		return ""
	}
	return c.Outcomes[*c.WinningOutcome]
}

type Machine struct {
	*fsm.Machine[Context]
}

func New(marketID, question string, outcomes []string, opts ...fsm.Option[Context]) *Machine {
	return NewWithContext(NewContext(marketID, question, outcomes...), opts...)
}

func NewWithContext(c Context, opts ...fsm.Option[Context]) *Machine {
	return &Machine{fsm.MustNew(config(c), opts...)}
}

func Restore(snapshot fsm.Snapshot[Context], opts ...fsm.Option[Context]) (*Machine, error) {
	m := NewWithContext(Context{MarketID: snapshot.ID}, opts...)
	if err := m.Restore(snapshot); err != nil {
		return nil, err
	}
	return m, nil
}

func Driver(opts ...fsm.Option[Context]) fsm.Driver {
	create := func(id string, c Context) *fsm.Machine[Context] {
		c.MarketID = id
		return NewWithContext(c, opts...).Machine
	}
	return fsm.NewDriver[Context](Kind, create, func(s fsm.Snapshot[Context]) (*fsm.Machine[Context], error) {
		m, err := Restore(s, opts...)
		if err != nil {
			return nil, err
		}
		return m.Machine, nil
	})
}

func (m *Machine) IsTerminal() bool { return IsTerminal(m.State()) }
func (m *Machine) CanTrade() bool   { return CanTrade(m.State()) }
func (m *Machine) IsResolved() bool { return IsResolved(m.State()) }
func (m *Machine) IsSettled() bool  { return IsSettled(m.State()) }
func (m *Machine) CanDispute() bool { return CanDispute(m.State()) }

func IsTerminal(s fsm.State) bool {
	return s == Settled || s == Voided
}

func CanTrade(s fsm.State) bool {
	return s == Trading
}

// IsResolved is true once a winner has been declared, whether or not it was paid out.
func IsResolved(s fsm.State) bool {
	return s == Resolved || s == Settled
}

func IsSettled(s fsm.State) bool {
	return s == Settled
}

func CanDispute(s fsm.State) bool {
	for _, st := range DisputableStates {
		if st == s {
			return true
		}
	}
	return false
}

func config(c Context) fsm.Config[Context] {
	return fsm.Config[Context]{
		ID:      c.MarketID,
		Kind:    Kind,
		States:  States,
		Initial: Draft,
		Context: c,
		Transitions: []fsm.TransitionDef[Context]{
			{
				From:        []fsm.State{Draft},
				To:          Open,
				Event:       Publish,
				Guard:       fsm.When(func(c Context) bool { return c.ValidMetadata && len(c.Outcomes) >= MinOutcomes }),
				Description: "market metadata must be valid, with at least two outcomes",
			},
			{
				From:        []fsm.State{Open},
				To:          Trading,
				Event:       StartTrading,
				Guard:       fsm.When(func(c Context) bool { return c.OpensAt != nil }),
				Description: "the opening time must be scheduled",
			},
			{
				From:        []fsm.State{Trading},
				To:          Closing,
				Event:       CloseTrading,
				Guard:       fsm.When(func(c Context) bool { return c.ClosesAt != nil }),
				Description: "the closing time must be scheduled",
			},
			{
				From:        []fsm.State{Closing},
				To:          ResolutionPending,
				Event:       RequestResolution,
				Guard:       fsm.When(func(c Context) bool { return c.ResolutionSource != "" }),
				Description: "a resolution source must be configured",
			},
			{
				From:        []fsm.State{ResolutionPending},
				To:          Resolved,
				Event:       Resolve,
				Guard:       fsm.When(func(c Context) bool { return hasValidWinner(c) && c.ResolutionProof != "" }),
				Description: "a valid winning outcome and a resolution proof are required",
			},
			{
				From:  []fsm.State{Resolved},
				To:    Settled,
				Event: Settle,
			},
			{
				From:        DisputableStates,
				To:          Disputed,
				Event:       Dispute,
				Guard:       fsm.When(func(c Context) bool { return c.DisputeReason != "" && c.DisputeFiledBy != "" }),
				Description: "a dispute needs a reason and who filed it",
			},
			{
				From:        []fsm.State{Disputed},
				To:          ResolutionPending,
				Event:       ResolveDispute,
				Guard:       fsm.When(func(c Context) bool { return c.AdminAction }),
				Description: "only an admin can resolve a dispute",
			},
			{
				From:        VoidableStates,
				To:          Voided,
				Event:       Void,
				Guard:       fsm.When(func(c Context) bool { return c.AdminAction && c.VoidReason != "" }),
				Description: "voiding requires an admin action and a reason",
			},
		},
		Hooks: fsm.Hooks[Context]{
			OnEnter: map[fsm.State]fsm.Hook[Context]{
				Trading: stamp(func(c *Context) **time.Time { return &c.TradingOpenedAt }),
				Closing: stamp(func(c *Context) **time.Time { return &c.TradingClosedAt }),
				Voided: func(_ context.Context, m *fsm.Machine[Context], _ fsm.TransitionRecord) error {
					m.SetContext(func(c *Context) { c.WinningOutcome = nil })
					return nil
				},
			},
			OnExit: map[fsm.State]fsm.Hook[Context]{
				Disputed: func(_ context.Context, m *fsm.Machine[Context], _ fsm.TransitionRecord) error {
					m.SetContext(func(c *Context) {
						c.DisputeReason = ""
						c.DisputeFiledBy = ""
						c.AdminAction = false
					})
					return nil
				},
			},
		},
	}
}

func hasValidWinner(c Context) bool {
	return c.WinningOutcome != nil && *c.WinningOutcome >= 0 && *c.WinningOutcome < len(c.Outcomes)
}

func stamp(field func(*Context) **time.Time) fsm.Hook[Context] {
	return func(_ context.Context, m *fsm.Machine[Context], rec fsm.TransitionRecord) error {
		m.SetContext(func(c *Context) {
			if f := field(c); *f == nil {
				ts := rec.Timestamp
				*f = &ts
			}
		})
		return nil
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
