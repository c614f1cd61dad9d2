/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package payment follows a payment through the processor, including the retry loop that
// follows a failed attempt.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const (
	Kind = "payment"

	DefaultMaxRetries = 3
)

const (
	Initiated         fsm.State = "initiated"
	Processing        fsm.State = "processing"
	Succeeded         fsm.State = "succeeded"
	Settled           fsm.State = "settled"
	Failed            fsm.State = "failed"
	RetryPending      fsm.State = "retry_pending"
	PermanentlyFailed fsm.State = "permanently_failed"
)

const (
	Process fsm.Event = "PROCESS"
	Succeed fsm.Event = "SUCCEED"
	Settle  fsm.Event = "SETTLE"
	Fail    fsm.Event = "FAIL"
	Retry   fsm.Event = "RETRY"
	Abandon fsm.Event = "ABANDON"
)

var (
	States = []fsm.State{
		Initiated, Processing, Succeeded, Settled, Failed, RetryPending, PermanentlyFailed,
	}
	TerminalStates = []fsm.State{Settled, PermanentlyFailed}

	// FraudCodes are the processor failure codes that must never be retried.
	FraudCodes = []string{"fraudulent", "fraud_suspected", "stolen_card", "lost_card"}
)

type Context struct {
	PaymentID          string          `json:"paymentId"`
	UserID             string          `json:"userId,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency,omitempty"`
	PaymentMethodID    string          `json:"paymentMethodId,omitempty"`
	PaymentMethodValid bool            `json:"paymentMethodValid"`
	ProcessorID        string          `json:"processorId,omitempty"`
	ProcessorConfirmed bool            `json:"processorConfirmed"`
	FundsAvailable     bool            `json:"fundsAvailable"`
	FailureReason      string          `json:"failureReason,omitempty"`
	FailureCode        string          `json:"failureCode,omitempty"`
	RetryCount         int             `json:"retryCount"`
	MaxRetries         int             `json:"maxRetries"`
	SettledAt          *time.Time      `json:"settledAt,omitempty"`
}

func (c Context) Clone() Context {
	if c.SettledAt != nil {
		ts := *c.SettledAt
		c.SettledAt = &ts
	}
	return c
}

func NewContext(paymentID string, amount decimal.Decimal, currency string) Context {
	return Context{
		PaymentID:  paymentID,
		Amount:     amount,
		Currency:   currency,
		MaxRetries: DefaultMaxRetries,
	}
}

// IsFraud is true if the processor declined the payment for suspected fraud.
func IsFraud(code string) bool {
	for _, c := range FraudCodes {
		if c == code {
			return true
		}
	}
	return false
}

func CanRetry(c Context) bool {
	return c.RetryCount < c.MaxRetries && !IsFraud(c.FailureCode)
}

func RetriesLeft(c Context) int {
	if left := c.MaxRetries - c.RetryCount; left > 0 {
		return left
	}
	return 0
}

type Machine struct {
	*fsm.Machine[Context]
}

func New(paymentID string, amount decimal.Decimal, currency string, opts ...fsm.Option[Context]) *Machine {
	return NewWithContext(NewContext(paymentID, amount, currency), opts...)
}

// NewWithContext creates a payment starting from `c`; a zero MaxRetries is replaced by
// DefaultMaxRetries.
func NewWithContext(c Context, opts ...fsm.Option[Context]) *Machine {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return &Machine{fsm.MustNew(config(c), opts...)}
}

func Restore(snapshot fsm.Snapshot[Context], opts ...fsm.Option[Context]) (*Machine, error) {
	m := NewWithContext(Context{PaymentID: snapshot.ID}, opts...)
	if err := m.Restore(snapshot); err != nil {
		return nil, err
	}
	return m, nil
}

func Driver(opts ...fsm.Option[Context]) fsm.Driver {
	create := func(id string, c Context) *fsm.Machine[Context] {
		c.PaymentID = id
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
	return IsTerminal(m.State())
}

func (m *Machine) IsSettled() bool {
	return m.State() == Settled
}

func IsTerminal(s fsm.State) bool {
	return s == Settled || s == PermanentlyFailed
}

func IsSettled(s fsm.State) bool {
	return s == Settled
}

func config(c Context) fsm.Config[Context] {
	return fsm.Config[Context]{
		ID:      c.PaymentID,
		Kind:    Kind,
		States:  States,
		Initial: Initiated,
		Context: c,
		Transitions: []fsm.TransitionDef[Context]{
			{
				From:  []fsm.State{Initiated, RetryPending},
				To:    Processing,
				Event: Process,
				Guard: fsm.When(func(c Context) bool {
					return c.PaymentMethodID != "" && c.PaymentMethodValid && c.RetryCount <= c.MaxRetries
				}),
				Description: "a valid payment method is required, within the retry limit",
			},
			{
				From:        []fsm.State{Processing},
				To:          Succeeded,
				Event:       Succeed,
				Guard:       fsm.When(func(c Context) bool { return c.ProcessorConfirmed && c.ProcessorID != "" }),
				Description: "the processor must confirm the payment",
			},
			{
				From:        []fsm.State{Succeeded},
				To:          Settled,
				Event:       Settle,
				Guard:       fsm.When(func(c Context) bool { return c.FundsAvailable }),
				Description: "insufficient funds available for settlement",
			},
			{
				From:        []fsm.State{Processing},
				To:          Failed,
				Event:       Fail,
				Guard:       fsm.When(func(c Context) bool { return c.FailureReason != "" }),
				Description: "a failure reason is required",
			},
			{
				From:        []fsm.State{Failed},
				To:          RetryPending,
				Event:       Retry,
				Guard:       fsm.When(func(c Context) bool { return c.RetryCount < c.MaxRetries }),
				Description: "maximum number of retries reached",
			},
			{
				From:  []fsm.State{Failed},
				To:    PermanentlyFailed,
				Event: Abandon,
				Guard: fsm.When(func(c Context) bool {
					return c.RetryCount >= c.MaxRetries || IsFraud(c.FailureCode)
				}),
				Description: "retries must be exhausted, or the failure must be fraud",
			},
			{
				From:  []fsm.State{RetryPending},
				To:    PermanentlyFailed,
				Event: Abandon,
			},
		},
		Hooks: fsm.Hooks[Context]{
			OnEnter: map[fsm.State]fsm.Hook[Context]{
				RetryPending: prepareRetry,
				Settled: func(_ context.Context, m *fsm.Machine[Context], rec fsm.TransitionRecord) error {
					m.SetContext(func(c *Context) {
						if c.SettledAt == nil {
							ts := rec.Timestamp
							c.SettledAt = &ts
						}
					})
					return nil
				},
			},
		},
	}
}

// prepareRetry counts the attempt and forgets the outcome of the failed one.
func prepareRetry(_ context.Context, m *fsm.Machine[Context], _ fsm.TransitionRecord) error {
	m.SetContext(func(c *Context) {
		c.RetryCount++
		c.ProcessorConfirmed = false
		c.ProcessorID = ""
		c.FailureReason = ""
		c.FailureCode = ""
	})
	return nil
}
