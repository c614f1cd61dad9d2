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
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/rs/zerolog"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

// EventRequest asks for `Event` to be sent to the `Kind` machine with the given `ID`, after
// merging `Patch` into its context.
type EventRequest struct {
	EventID   string          `json:"eventId,omitempty"`
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Event     fsm.Event       `json:"event"`
	Patch     json.RawMessage `json:"patch,omitempty"`
	Metadata  fsm.Metadata    `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
}

type OutcomeCode string

const (
	Ok                   OutcomeCode = "Ok"
	MissingDestination   OutcomeCode = "MissingDestination"
	UnknownKind          OutcomeCode = "UnknownKind"
	FsmNotFound          OutcomeCode = "FsmNotFound"
	TransitionNotAllowed OutcomeCode = "TransitionNotAllowed"
	GuardFailed          OutcomeCode = "GuardFailed"
	HookFailed           OutcomeCode = "HookFailed"
	InternalError        OutcomeCode = "InternalError"
)

// EventOutcome reports what happened to an EventRequest. The transition is committed for
// both Ok and HookFailed outcomes.
type EventOutcome struct {
	EventID string      `json:"eventId"`
	Kind    string      `json:"kind"`
	ID      string      `json:"id"`
	Code    OutcomeCode `json:"code"`
	Details string      `json:"details,omitempty"`
	From    fsm.State   `json:"from,omitempty"`
	To      fsm.State   `json:"to,omitempty"`
}

// Committed is true if the machine changed state.
func (o EventOutcome) Committed() bool {
	return o.Code == Ok || o.Code == HookFailed
}

var (
	// We poll SQS every DefaultPollingInterval seconds
	DefaultPollingInterval = 5 * time.Second

	// DefaultVisibilityTimeout sets how long SQS will wait for the subscriber to remove the
	// message from the queue.
	// See: https://docs.aws.amazon.com/AWSSimpleQueueService/latest/SQSDeveloperGuide/sqs-visibility-timeout.html
	DefaultVisibilityTimeout = 5 * time.Second
)

const DefaultRetries = 3

type ListenerOptions struct {
	EventsChannel        <-chan EventRequest
	NotificationsChannel chan<- EventOutcome
	Store                storage.SnapshotStore
	Drivers              []fsm.Driver
}

// EventsListener applies the EventRequests it receives, one at a time, to the machines
// persisted in the Store.
type EventsListener struct {
	logger        zerolog.Logger
	events        <-chan EventRequest
	notifications chan<- EventOutcome
	store         storage.SnapshotStore
	drivers       map[string]fsm.Driver
}

type SqsSubscriber struct {
	logger               zerolog.Logger
	client               sqsiface.SQSAPI
	events               chan<- EventRequest
	Timeout              time.Duration
	PollingInterval      time.Duration
	MessageRemoveRetries int
}

type SqsPublisher struct {
	logger        zerolog.Logger
	client        sqsiface.SQSAPI
	notifications <-chan EventOutcome
}
