/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// Package kyc tracks a user through the Know-Your-Customer verification flow.
//
// No state is unconditionally terminal: both `rejected` and `suspended` can be left via an
// administrative RESET, and `suspended` returns to the exact step it was entered from via
// UNSUSPEND.
package kyc

import (
	"context"
	"time"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

const Kind = "kyc"

const (
	Unverified        fsm.State = "unverified"
	EmailPending      fsm.State = "email_pending"
	EmailVerified     fsm.State = "email_verified"
	IdentityPending   fsm.State = "identity_pending"
	IdentityVerified  fsm.State = "identity_verified"
	BackgroundPending fsm.State = "background_pending"
	BackgroundCleared fsm.State = "background_cleared"
	Approved          fsm.State = "approved"
	Rejected          fsm.State = "rejected"
	Suspended         fsm.State = "suspended"
)

const (
	SubmitEmail          fsm.Event = "SUBMIT_EMAIL"
	VerifyEmail          fsm.Event = "VERIFY_EMAIL"
	SubmitIdentity       fsm.Event = "SUBMIT_IDENTITY"
	VerifyIdentity       fsm.Event = "VERIFY_IDENTITY"
	StartBackgroundCheck fsm.Event = "START_BACKGROUND_CHECK"
	ClearBackgroundCheck fsm.Event = "CLEAR_BACKGROUND_CHECK"
	Approve              fsm.Event = "APPROVE"
	Reject               fsm.Event = "REJECT"
	Suspend              fsm.Event = "SUSPEND"
	Unsuspend            fsm.Event = "UNSUSPEND"
	Reset                fsm.Event = "RESET"
)

var (
	// Steps is the verification path, in order.
	Steps = []fsm.State{
		Unverified, EmailPending, EmailVerified, IdentityPending,
		IdentityVerified, BackgroundPending, BackgroundCleared, Approved,
	}
	States = append(append([]fsm.State(nil), Steps...), Rejected, Suspended)

	// Suspendable are the states SUSPEND is defined from, and UNSUSPEND returns to.
	Suspendable = Steps
	// Rejectable are the pre-approval steps.
	Rejectable = Steps[:len(Steps)-1 : len(Steps)-1]
)

type Context struct {
	UserID             string     `json:"userId"`
	Email              string     `json:"email,omitempty"`
	EmailTokenValid    bool       `json:"emailTokenValid"`
	IdentitySessionID  string     `json:"identitySessionId,omitempty"`
	IdentityApproved   bool       `json:"identityApproved"`
	BackgroundCheckID  string     `json:"backgroundCheckId,omitempty"`
	BackgroundCleared  bool       `json:"backgroundCleared"`
	AdminAction        bool       `json:"adminAction"`
	SuspensionReason   string     `json:"suspensionReason,omitempty"`
	PreSuspensionState fsm.State  `json:"preSuspensionState,omitempty"`
	RejectionReason    string     `json:"rejectionReason,omitempty"`
	ApprovedAt         *time.Time `json:"approvedAt,omitempty"`
}

func (c Context) Clone() Context {
	if c.ApprovedAt != nil {
		ts := *c.ApprovedAt
		c.ApprovedAt = &ts
	}
	return c
}

func NewContext(userID string) Context {
	return Context{UserID: userID}
}

// Verified is true when all three upstream confirmations have been received.
func Verified(c Context) bool {
	return c.EmailTokenValid && c.IdentityApproved && c.BackgroundCleared
}

type Machine struct {
	*fsm.Machine[Context]
}

func New(userID string, opts ...fsm.Option[Context]) *Machine {
	return NewWithContext(NewContext(userID), opts...)
}

func NewWithContext(c Context, opts ...fsm.Option[Context]) *Machine {
	return &Machine{fsm.MustNew(config(c), opts...)}
}

func Restore(snapshot fsm.Snapshot[Context], opts ...fsm.Option[Context]) (*Machine, error) {
	m := New(snapshot.ID, opts...)
	if err := m.Restore(snapshot); err != nil {
		return nil, err
	}
	return m, nil
}

func Driver(opts ...fsm.Option[Context]) fsm.Driver {
	create := func(id string, c Context) *fsm.Machine[Context] {
		c.UserID = id
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

func (m *Machine) IsApproved() bool  { return IsApproved(m.State()) }
func (m *Machine) IsSuspended() bool { return IsSuspended(m.State()) }
func (m *Machine) IsBlocked() bool   { return IsBlocked(m.State()) }
func (m *Machine) CanTrade() bool    { return CanTrade(m.State()) }
func (m *Machine) Progress() int     { return Progress(m.State()) }

func IsApproved(s fsm.State) bool  { return s == Approved }
func IsSuspended(s fsm.State) bool { return s == Suspended }

// IsBlocked is true in the states that need an administrator to move on.
func IsBlocked(s fsm.State) bool {
	return s == Rejected || s == Suspended
}

// CanTrade is only true for approved users; suspension revokes it.
func CanTrade(s fsm.State) bool {
	return s == Approved
}

// Progress is the index of `s` along Steps, or -1 when `s` is off the verification path.
func Progress(s fsm.State) int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

func config(c Context) fsm.Config[Context] {
	defs := []fsm.TransitionDef[Context]{
		forward(Unverified, EmailPending, SubmitEmail,
			func(c Context) bool { return c.Email != "" },
			"an email address is required"),
		forward(EmailPending, EmailVerified, VerifyEmail,
			func(c Context) bool { return c.EmailTokenValid },
			"the email verification token must be valid"),
		forward(EmailVerified, IdentityPending, SubmitIdentity,
			func(c Context) bool { return c.IdentitySessionID != "" },
			"an identity provider session is required"),
		forward(IdentityPending, IdentityVerified, VerifyIdentity,
			func(c Context) bool { return c.IdentityApproved },
			"the identity provider must approve the identity"),
		forward(IdentityVerified, BackgroundPending, StartBackgroundCheck,
			func(c Context) bool { return c.BackgroundCheckID != "" },
			"a background check must be started"),
		forward(BackgroundPending, BackgroundCleared, ClearBackgroundCheck,
			func(c Context) bool { return c.BackgroundCleared },
			"the background check must be cleared"),
		forward(BackgroundCleared, Approved, Approve, Verified,
			"email, identity and background check must all be confirmed"),
		{
			From:        Rejectable,
			To:          Rejected,
			Event:       Reject,
			Guard:       fsm.When(func(c Context) bool { return c.RejectionReason != "" }),
			Description: "a rejection reason is required",
		},
		{
			From:        Suspendable,
			To:          Suspended,
			Event:       Suspend,
			Guard:       fsm.When(func(c Context) bool { return c.AdminAction && c.SuspensionReason != "" }),
			Description: "suspension requires an admin action and a reason",
		},
		{
			From:        []fsm.State{Rejected, Suspended},
			To:          Unverified,
			Event:       Reset,
			Guard:       fsm.When(func(c Context) bool { return c.AdminAction }),
			Description: "only an admin can reset the verification",
		},
	}
	for _, s := range Suspendable {
		defs = append(defs, fsm.TransitionDef[Context]{
			From:        []fsm.State{Suspended},
			To:          s,
			Event:       Unsuspend,
			Guard:       resumes,
			Description: "an admin action is required to lift the suspension",
		})
	}
	return fsm.Config[Context]{
		ID:          c.UserID,
		Kind:        Kind,
		States:      States,
		Initial:     Unverified,
		Context:     c,
		Transitions: defs,
		Hooks: fsm.Hooks[Context]{
			OnEnter: map[fsm.State]fsm.Hook[Context]{
				Suspended:  rememberPriorState,
				Unverified: restart,
				Approved:   stampApproval,
			},
			OnExit: map[fsm.State]fsm.Hook[Context]{
				Suspended: func(_ context.Context, m *fsm.Machine[Context], _ fsm.TransitionRecord) error {
					m.SetContext(func(c *Context) {
						c.AdminAction = false
						c.SuspensionReason = ""
					})
					return nil
				},
				Rejected: func(_ context.Context, m *fsm.Machine[Context], _ fsm.TransitionRecord) error {
					m.SetContext(func(c *Context) {
						c.AdminAction = false
						c.RejectionReason = ""
					})
					return nil
				},
			},
		},
	}
}

func forward(from, to fsm.State, evt fsm.Event, pred func(Context) bool, desc string) fsm.TransitionDef[Context] {
	return fsm.TransitionDef[Context]{
		From:        []fsm.State{from},
		To:          to,
		Event:       evt,
		Guard:       fsm.When(pred),
		Description: desc,
	}
}

// resumes only lets UNSUSPEND go back to the state SUSPEND came from.
func resumes(c Context, _, to fsm.State, _ fsm.Event) bool {
	return c.AdminAction && c.PreSuspensionState == to
}

func rememberPriorState(_ context.Context, m *fsm.Machine[Context], rec fsm.TransitionRecord) error {
	m.SetContext(func(c *Context) { c.PreSuspensionState = rec.From })
	return nil
}

// restart forgets every verification fact after a RESET; the user and email are kept.
func restart(_ context.Context, m *fsm.Machine[Context], rec fsm.TransitionRecord) error {
	if rec.Event != Reset {
		return nil
	}
	m.SetContext(func(c *Context) {
		*c = Context{UserID: c.UserID, Email: c.Email}
	})
	return nil
}

func stampApproval(_ context.Context, m *fsm.Machine[Context], rec fsm.TransitionRecord) error {
	m.SetContext(func(c *Context) {
		if c.ApprovedAt == nil {
			ts := rec.Timestamp
			c.ApprovedAt = &ts
		}
	})
	return nil
}
