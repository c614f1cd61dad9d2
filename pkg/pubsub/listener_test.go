/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package pubsub_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/JiaYongfei/respect/gomega"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/massenz/go-lifecycle/pkg/audit"
	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/order"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

var _ = Describe("Events listener", func() {
	var (
		store         storage.StoreManager
		listener      *pubsub.EventsListener
		eventsCh      chan pubsub.EventRequest
		notifications chan pubsub.EventOutcome
		auditErr      error
		ctx           = context.Background()
	)
	BeforeEach(func() {
		auditErr = nil
		store = storage.NewInMemoryStore()
		eventsCh = make(chan pubsub.EventRequest)
		notifications = make(chan pubsub.EventOutcome, 10)
		sink := audit.MultiSink{
			audit.StoreSink{Log: store},
			audit.SinkFunc(func(context.Context, audit.Entry) error { return auditErr }),
		}
		listener = pubsub.NewEventsListener(&pubsub.ListenerOptions{
			EventsChannel:        eventsCh,
			NotificationsChannel: notifications,
			Store:                store,
			Drivers:              []fsm.Driver{order.Driver(audit.Option[order.Context](sink))},
		})
		Expect(storage.Save(ctx, store, order.New("o1", decimal.NewFromInt(100)).Machine)).To(Succeed())
	})

	It("applies the patch and the event, then saves the machine", func() {
		outcome := listener.Process(ctx, pubsub.EventRequest{
			EventID:  "evt-1",
			Kind:     order.Kind,
			ID:       "o1",
			Event:    order.Submit,
			Patch:    json.RawMessage(`{"validParams": true}`),
			Metadata: fsm.ByActor("gateway"),
		})
		Expect(outcome).To(Equal(pubsub.EventOutcome{
			EventID: "evt-1", Kind: order.Kind, ID: "o1", Code: pubsub.Ok,
			From: order.Pending, To: order.Submitted,
		}))
		Expect(outcome.Committed()).To(BeTrue())

		snap, err := storage.Load[order.Context](ctx, store, order.Kind, "o1")
		Expect(err).ToNot(HaveOccurred())
		Expect(snap.CurrentState).To(Equal(order.Submitted))
		Expect(snap.Context.ValidParams).To(BeTrue())

		ids, _ := store.GetAllInState(ctx, order.Kind, order.Submitted)
		Expect(ids).To(ConsistOf("o1"))
		records, _ := store.GetRecords(ctx, order.Kind, "o1")
		Expect(records).To(HaveLen(1))
		Expect(records[0].Metadata).To(Equal(fsm.ByActor("gateway")))
	})

	It("does not save denied transitions", func() {
		outcome := listener.Process(ctx, pubsub.EventRequest{
			Kind: order.Kind, ID: "o1", Event: order.Submit,
		})
		Expect(outcome).To(Respect(pubsub.EventOutcome{Code: pubsub.GuardFailed, From: order.Pending}))
		Expect(outcome.Details).To(ContainSubstring("order parameters must be valid"))

		outcome = listener.Process(ctx, pubsub.EventRequest{
			Kind: order.Kind, ID: "o1", Event: order.Fill,
			Patch: json.RawMessage(`{"validParams": true}`),
		})
		Expect(outcome.Code).To(Equal(pubsub.TransitionNotAllowed))
		Expect(outcome.Committed()).To(BeFalse())

		snap, _ := storage.Load[order.Context](ctx, store, order.Kind, "o1")
		Expect(snap.Context.ValidParams).To(BeFalse())
		Expect(snap.History).To(BeEmpty())
	})

	It("commits but reports failing hooks", func() {
		auditErr = errors.New("audit queue unavailable")
		outcome := listener.Process(ctx, pubsub.EventRequest{
			Kind: order.Kind, ID: "o1", Event: order.Cancel,
			Patch: json.RawMessage(`{"cancelledBy": "trader-1"}`),
		})
		Expect(outcome.Code).To(Equal(pubsub.HookFailed))
		Expect(outcome.Details).To(ContainSubstring("audit queue unavailable"))
		Expect(outcome.Committed()).To(BeTrue())
		snap, _ := storage.Load[order.Context](ctx, store, order.Kind, "o1")
		Expect(snap.CurrentState).To(Equal(order.Cancelled))
	})

	expectCode := func(request pubsub.EventRequest, code pubsub.OutcomeCode) {
		ExpectWithOffset(1, listener.Process(ctx, request).Code).To(Equal(code))
	}
	It("rejects requests it cannot deliver", func() {
		expectCode(pubsub.EventRequest{Kind: order.Kind, Event: order.Submit}, pubsub.MissingDestination)
		expectCode(pubsub.EventRequest{Kind: "loan", ID: "o1", Event: order.Submit}, pubsub.UnknownKind)
		expectCode(pubsub.EventRequest{Kind: order.Kind, ID: "o2", Event: order.Submit}, pubsub.FsmNotFound)
		expectCode(pubsub.EventRequest{
			Kind: order.Kind, ID: "o1", Event: order.Submit, Patch: json.RawMessage(`{"quantity": [1]}`),
		}, pubsub.InternalError)
	})

	It("listens until the channel is closed", func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			listener.ListenForMessages(context.Background())
		}()
		eventsCh <- pubsub.EventRequest{EventID: "e1", Kind: order.Kind, ID: "o1", Event: order.Accept}
		eventsCh <- pubsub.EventRequest{
			EventID: "e2", Kind: order.Kind, ID: "o1", Event: order.Submit,
			Patch: json.RawMessage(`{"validParams": true}`),
		}
		close(eventsCh)
		Eventually(done, timeout).Should(BeClosed())

		Expect(<-notifications).To(Respect(pubsub.EventOutcome{EventID: "e1", Code: pubsub.TransitionNotAllowed}))
		Expect(<-notifications).To(Respect(pubsub.EventOutcome{EventID: "e2", Code: pubsub.Ok}))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			listener.ListenForMessages(ctx)
		}()
		cancel()
		Eventually(done, timeout).Should(BeClosed())
	})

	It("stops when the context is cancelled while nobody reads the notifications", func() {
		blocked := pubsub.NewEventsListener(&pubsub.ListenerOptions{
			EventsChannel:        eventsCh,
			NotificationsChannel: make(chan pubsub.EventOutcome),
			Store:                store,
			Drivers:              []fsm.Driver{order.Driver()},
		})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			blocked.ListenForMessages(ctx)
		}()
		eventsCh <- pubsub.EventRequest{EventID: "e3", Kind: order.Kind, ID: "o1", Event: order.Accept}
		Consistently(done, "50ms").ShouldNot(BeClosed())
		cancel()
		Eventually(done, timeout).Should(BeClosed())
	})
})
