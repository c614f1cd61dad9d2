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
	"time"

	"github.com/aws/aws-sdk-go/aws"
	. "github.com/JiaYongfei/respect/gomega"
	protos "github.com/massenz/statemachine-proto/golang/api"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/massenz/go-lifecycle/pkg/audit"
	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/kyc"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
)

var _ = Describe("Message codec", func() {
	var req pubsub.EventRequest
	BeforeEach(func() {
		req = pubsub.EventRequest{
			EventID:   "feed-beef",
			Kind:      kyc.Kind,
			ID:        "user-1",
			Event:     kyc.SubmitEmail,
			Patch:     json.RawMessage(`{"email":"jane@example.com"}`),
			Metadata:  fsm.WithReason("signup-form", "self-service"),
			Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		}
	})
	It("round-trips requests through the statemachine EventRequest", func() {
		body, err := pubsub.EncodeRequest(req)
		Expect(err).ToNot(HaveOccurred())

		decoded, err := pubsub.DecodeRequest(body)
		Expect(err).ToNot(HaveOccurred())
		Expect(decoded.Patch).To(MatchJSON(req.Patch))
		decoded.Patch = req.Patch
		Expect(decoded).To(Equal(req))
	})
	It("maps kind, ID and actor onto the proto fields", func() {
		msg, err := pubsub.NewProtoRequest(req)
		Expect(err).ToNot(HaveOccurred())
		Expect(msg.Config).To(Equal(kyc.Kind))
		Expect(msg.Id).To(Equal("user-1"))
		Expect(msg.Event.EventId).To(Equal("feed-beef"))
		Expect(msg.Event.Transition.Event).To(Equal(string(kyc.SubmitEmail)))
		Expect(msg.Event.Originator).To(Equal("signup-form"))
		Expect(msg.Event.Timestamp.AsTime()).To(Equal(req.Timestamp))
	})
	It("takes the originator as the actor when there are no details", func() {
		decoded, err := pubsub.FromProtoRequest(&protos.EventRequest{
			Config: kyc.Kind,
			Id:     "user-2",
			Event: &protos.Event{
				Transition: &protos.Transition{Event: string(kyc.Reset)},
				Originator: "support",
			},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(decoded).To(Respect(pubsub.EventRequest{
			Kind: kyc.Kind, ID: "user-2", Event: kyc.Reset, Metadata: fsm.ByActor("support"),
		}))
		Expect(decoded.Patch).To(BeEmpty())
		Expect(decoded.Timestamp).To(BeZero())
	})
	It("rejects details which are not JSON", func() {
		_, err := pubsub.FromProtoRequest(&protos.EventRequest{
			Config: kyc.Kind,
			Id:     "user-2",
			Event: &protos.Event{
				Transition: &protos.Transition{Event: string(kyc.Reset)},
				Details:    "not json",
			},
		})
		Expect(err).To(HaveOccurred())
	})
	It("round-trips outcomes through a protobuf Struct", func() {
		outcome := pubsub.EventOutcome{
			EventID: "feed-beef", Kind: kyc.Kind, ID: "user-1",
			Code: pubsub.HookFailed, Details: "boom", From: kyc.Unverified, To: kyc.EmailPending,
		}
		body, err := pubsub.Encode(outcome)
		Expect(err).ToNot(HaveOccurred())
		var decoded pubsub.EventOutcome
		Expect(pubsub.Decode(body, &decoded)).To(Succeed())
		Expect(decoded).To(Equal(outcome))
	})
	It("fails on bodies which are not Base64 protobuf", func() {
		_, err := pubsub.DecodeRequest("{not base64}")
		Expect(err).To(HaveOccurred())
		var outcome pubsub.EventOutcome
		Expect(pubsub.Decode("{not base64}", &outcome)).ToNot(Succeed())
	})
})

var _ = Describe("SQS Subscriber", func() {
	var (
		subscriber *pubsub.SqsSubscriber
		eventsCh   chan pubsub.EventRequest
	)
	BeforeEach(func() {
		eventsCh = make(chan pubsub.EventRequest)
		subscriber = pubsub.NewSqsSubscriber(eventsCh, testSqsClient)
		Expect(subscriber).ToNot(BeNil())
		// Make it exit much sooner in tests
		subscriber.PollingInterval = 50 * time.Millisecond
	})

	It("receives events, skipping invalid messages", func() {
		Expect(postRawMessage(eventsQueue, "garbage!")).To(Succeed())
		Expect(postRequest(eventsQueue, pubsub.EventRequest{Kind: kyc.Kind, Event: kyc.Reset})).To(Succeed())
		Expect(postRequest(eventsQueue, pubsub.EventRequest{
			EventID:  "feed-beef",
			Kind:     kyc.Kind,
			ID:       "user-1",
			Event:    kyc.SubmitEmail,
			Metadata: fsm.ByActor("test-subscriber"),
		})).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(subscriber.Subscribe(ctx, eventsQueue)).To(Succeed())
		}()

		select {
		case req := <-eventsCh:
			Expect(req).To(Respect(pubsub.EventRequest{
				EventID:  "feed-beef",
				Kind:     kyc.Kind,
				ID:       "user-1",
				Event:    kyc.SubmitEmail,
				Metadata: fsm.ByActor("test-subscriber"),
			}))
			// Generated when missing
			Expect(req.Timestamp).ToNot(BeZero())
		case <-time.After(timeout):
			Fail("timed out waiting to receive a message")
		}
		cancel()
		Eventually(done, timeout).Should(BeClosed())
		Expect(getSqsMessage(eventsQueue)).To(BeNil())
	})

	It("generates missing event IDs", func() {
		Expect(postRequest(eventsQueue, pubsub.EventRequest{
			Kind: kyc.Kind, ID: "user-2", Event: kyc.SubmitEmail,
		})).To(Succeed())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = subscriber.Subscribe(ctx, eventsQueue) }()

		var req pubsub.EventRequest
		Eventually(eventsCh, timeout).Should(Receive(&req))
		Expect(req.EventID).ToNot(BeEmpty())
	})

	It("fails for unknown queues", func() {
		Expect(subscriber.Subscribe(context.Background(), "no-such-queue")).ToNot(Succeed())
	})
})

var _ = Describe("SQS Publisher", func() {
	It("publishes outcomes until the channel is closed", func() {
		notifications := make(chan pubsub.EventOutcome)
		publisher := pubsub.NewSqsPublisher(notifications, testSqsClient)
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(publisher.Publish(notificationsQueue)).To(Succeed())
		}()
		notifications <- pubsub.EventOutcome{
			EventID: "evt-7", Kind: kyc.Kind, ID: "user-1",
			Code: pubsub.GuardFailed, Details: "an email address is required",
			From: kyc.Unverified,
		}
		close(notifications)
		Eventually(done, timeout).Should(BeClosed())

		var msg = getSqsMessage(notificationsQueue)
		Expect(msg).ToNot(BeNil())
		var outcome pubsub.EventOutcome
		Expect(pubsub.Decode(aws.StringValue(msg.Body), &outcome)).To(Succeed())
		Expect(outcome).To(Respect(pubsub.EventOutcome{
			EventID: "evt-7", Code: pubsub.GuardFailed, From: kyc.Unverified,
		}))
	})

	It("is an audit sink", func() {
		publisher := pubsub.NewSqsPublisher(nil, testSqsClient)
		sink, err := publisher.AuditSink(auditQueue)
		Expect(err).ToNot(HaveOccurred())

		m := kyc.New("user-3", audit.Option[kyc.Context](sink))
		m.SetContext(func(c *kyc.Context) { c.Email = "joe@example.com" })
		res := m.Fire(kyc.SubmitEmail, fsm.ByActor("signup"))
		Expect(res.Err()).ToNot(HaveOccurred())

		var msg = getSqsMessage(auditQueue)
		Expect(msg).ToNot(BeNil())
		var entry audit.Entry
		Expect(pubsub.Decode(aws.StringValue(msg.Body), &entry)).To(Succeed())
		Expect(entry.Kind).To(Equal(kyc.Kind))
		Expect(entry.MachineID).To(Equal("user-3"))
		Expect(entry.Record.ID).To(Equal(res.Record.ID))
		Expect(entry.Record.To).To(Equal(kyc.EmailPending))
	})

	It("needs an existing audit queue", func() {
		_, err := pubsub.NewSqsPublisher(nil, testSqsClient).AuditSink("no-such-queue")
		Expect(err).To(HaveOccurred())
	})
})
