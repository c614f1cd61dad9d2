/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package order models the execution lifecycle of a trade order, from submission to the
// venue until settlement of the fills.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const Kind = "order"

const (
	Pending     fsm.State = "pending"
	Submitted   fsm.State = "submitted"
	Open        fsm.State = "open"
	PartialFill fsm.State = "partial_fill"
	Filled      fsm.State = "filled"
	Settling    fsm.State = "settling"
	Settled     fsm.State = "settled"
	Cancelled   fsm.State = "cancelled"
	Rejected    fsm.State = "rejected"
	Expired     fsm.State = "expired"
)

const (
	Submit        fsm.Event = "SUBMIT"
	Accept        fsm.Event = "ACCEPT"
	PartiallyFill fsm.Event = "PARTIAL_FILL"
	Fill          fsm.Event = "FILL"
	SettleStart   fsm.Event = "SETTLE_START"
	SettleConfirm fsm.Event = "SETTLE_CONFIRM"
	Cancel        fsm.Event = "CANCEL"
	Reject        fsm.Event = "REJECT"
	Expire        fsm.Event = "EXPIRE"
)

var (
	States = []fsm.State{
		Pending, Submitted, Open, PartialFill, Filled, Settling,
		Settled, Cancelled, Rejected, Expired,
	}
	TerminalStates = []fsm.State{Settled, Cancelled, Rejected, Expired}
	// CancellableStates are those from which CANCEL is defined.
	CancellableStates = []fsm.State{Pending, Submitted, Open, PartialFill}
)

// Context holds the facts about an order that the guards check.
// The venue, settlement and cancellation fields are set by upstream services before
// the corresponding event is sent.
type Context struct {
	OrderID             string          `json:"orderId"`
	UserID              string          `json:"userId,omitempty"`
	Symbol              string          `json:"symbol,omitempty"`
	Side                string          `json:"side,omitempty"`
	Type                string          `json:"type,omitempty"`
	Price               decimal.Decimal `json:"price"`
	Quantity            decimal.Decimal `json:"quantity"`
	FilledQuantity      decimal.Decimal `json:"filledQuantity"`
	ValidParams         bool            `json:"validParams"`
	SettlementID        string          `json:"settlementId,omitempty"`
	SettlementConfirmed bool            `json:"settlementConfirmed"`
	CancelledBy         string          `json:"cancelledBy,omitempty"`
	RejectionReason     string          `json:"rejectionReason,omitempty"`
	SubmittedAt         *time.Time      `json:"submittedAt,omitempty"`
	FilledAt            *time.Time      `json:"filledAt,omitempty"`
	SettledAt           *time.Time      `json:"settledAt,omitempty"`
}

func (c Context) Clone() Context {
	c.SubmittedAt = copyTime(c.SubmittedAt)
	c.FilledAt = copyTime(c.FilledAt)
	c.SettledAt = copyTime(c.SettledAt)
	return c
}

func NewContext(orderID string, quantity decimal.Decimal) Context {
	return Context{
		OrderID:  orderID,
		Quantity: quantity,
	}
}

// RemainingQuantity is what is still left to fill; never negative.
func RemainingQuantity(c Context) decimal.Decimal {
	left := c.Quantity.Sub(c.FilledQuantity)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Machine is the lifecycle of a single order.
type Machine struct {
	*fsm.Machine[Context]
}

func New(orderID string, quantity decimal.Decimal, opts ...fsm.Option[Context]) *Machine {
	return NewWithContext(NewContext(orderID, quantity), opts...)
}

// NewWithContext is New for callers which know more than the id and quantity upfront.
func NewWithContext(c Context, opts ...fsm.Option[Context]) *Machine {
	return &Machine{fsm.MustNew(config(c), opts...)}
}

// Restore rebuilds the Machine persisted in `snapshot`.
func Restore(snapshot fsm.Snapshot[Context], opts ...fsm.Option[Context]) (*Machine, error) {
	m := NewWithContext(Context{OrderID: snapshot.ID}, opts...)
	if err := m.Restore(snapshot); err != nil {
		return nil, err
	}
	return m, nil
}

// Driver drives persisted orders, see fsm.Driver.
func Driver(opts ...fsm.Option[Context]) fsm.Driver {
	create := func(id string, c Context) *fsm.Machine[Context] {
		c.OrderID = id
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

func (m *Machine) IsTerminal() bool {
	return m.In(TerminalStates...)
}

func (m *Machine) IsWorking() bool {
	return m.In(Open, PartialFill)
}

func (m *Machine) IsSettled() bool {
	return IsSettled(m.State())
}

func (m *Machine) CanCancel() bool {
	return CanCancel(m.State())
}

func IsTerminal(s fsm.State) bool {
	return contains(TerminalStates, s)
}

// IsWorking is true while the order rests on the venue and can still trade.
func IsWorking(s fsm.State) bool {
	return s == Open || s == PartialFill
}

func IsSettled(s fsm.State) bool {
	return s == Settled
}

func CanCancel(s fsm.State) bool {
	return contains(CancellableStates, s)
}

func config(c Context) fsm.Config[Context] {
	return fsm.Config[Context]{
		ID:      c.OrderID,
		Kind:    Kind,
		States:  States,
		Initial: Pending,
		Context: c,
		Transitions: []fsm.TransitionDef[Context]{
			{
				From:        []fsm.State{Pending},
				To:          Submitted,
				Event:       Submit,
				Guard:       fsm.When(hasValidParams),
				Description: "order parameters must be valid and quantity greater than zero",
			},
			{
				From:  []fsm.State{Submitted},
				To:    Open,
				Event: Accept,
			},
			{
				From:        []fsm.State{Open, PartialFill},
				To:          PartialFill,
				Event:       PartiallyFill,
				Guard:       fsm.When(isPartiallyFilled),
				Description: "filled quantity must be greater than zero and less than the order quantity",
			},
			{
				From:        []fsm.State{Open, PartialFill},
				To:          Filled,
				Event:       Fill,
				Guard:       fsm.When(isFullyFilled),
				Description: "filled quantity must equal the order quantity",
			},
			{
				From:        []fsm.State{Filled},
				To:          Settling,
				Event:       SettleStart,
				Guard:       fsm.When(func(c Context) bool { return c.SettlementID != "" }),
				Description: "a settlement id must be assigned",
			},
			{
				From:        []fsm.State{Settling},
				To:          Settled,
				Event:       SettleConfirm,
				Guard:       fsm.When(func(c Context) bool { return c.SettlementConfirmed }),
				Description: "settlement must be confirmed",
			},
			{
				// From partial_fill only the terminal status is recorded here; settling the
				// filled quantity belongs to the order execution workflow.
				From:        CancellableStates,
				To:          Cancelled,
				Event:       Cancel,
				Guard:       fsm.When(func(c Context) bool { return c.CancelledBy != "" }),
				Description: "cancellation requires the identity of who cancelled the order",
			},
			{
				From:        []fsm.State{Submitted},
				To:          Rejected,
				Event:       Reject,
				Guard:       fsm.When(func(c Context) bool { return c.RejectionReason != "" }),
				Description: "a rejection reason is required",
			},
			{
				From:  []fsm.State{Open, PartialFill},
				To:    Expired,
				Event: Expire,
			},
		},
		Hooks: fsm.Hooks[Context]{
			OnEnter: map[fsm.State]fsm.Hook[Context]{
				Submitted: stamp(func(c *Context) **time.Time { return &c.SubmittedAt }),
				Filled:    stamp(func(c *Context) **time.Time { return &c.FilledAt }),
				Settled:   stamp(func(c *Context) **time.Time { return &c.SettledAt }),
			},
		},
	}
}

func hasValidParams(c Context) bool {
	return c.ValidParams && c.Quantity.IsPositive()
}

func isPartiallyFilled(c Context) bool {
	return c.FilledQuantity.IsPositive() && c.FilledQuantity.LessThan(c.Quantity)
}

func isFullyFilled(c Context) bool {
	return c.Quantity.IsPositive() && c.FilledQuantity.Equal(c.Quantity)
}

// stamp sets the field to the transition time, the first time the state is entered.
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

func contains(states []fsm.State, s fsm.State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
