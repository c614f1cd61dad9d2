/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/JiaYongfei/respect/gomega"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/massenz/go-lifecycle/pkg/audit"
	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/kyc"
	"github.com/massenz/go-lifecycle/pkg/metrics"
	"github.com/massenz/go-lifecycle/pkg/order"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
	"github.com/massenz/go-lifecycle/pkg/server"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

func readerFrom(v interface{}) io.Reader {
	jsonBytes, err := json.Marshal(v)
	Expect(err).ToNot(HaveOccurred())
	return bytes.NewBuffer(jsonBytes)
}

func path(parts ...string) string {
	return strings.Join(append([]string{server.MachinesEndpoint}, parts...), "/")
}

var _ = Describe("Handlers", func() {
	var (
		ctx      = context.Background()
		writer   *httptest.ResponseRecorder
		store    storage.StoreManager
		events   chan pubsub.EventRequest
		registry  *prometheus.Registry
		collector *metrics.Collector
		router    http.Handler
	)
	BeforeEach(func() {
		writer = httptest.NewRecorder()
		store = storage.NewInMemoryStore()
		events = make(chan pubsub.EventRequest, 1)
		registry = prometheus.NewRegistry()
		var err error
		collector, err = metrics.NewCollector(registry)
		Expect(err).ToNot(HaveOccurred())

		sink := audit.StoreSink{Log: store}
		router = server.NewRouter(&server.Config{
			Store: store,
			Drivers: []fsm.Driver{
				order.Driver(audit.Option[order.Context](sink), metrics.Option[order.Context](collector)),
				kyc.Driver(audit.Option[kyc.Context](sink)),
			},
			Events:   events,
			Gatherer: registry,
		})
	})

	Context("when checking health", func() {
		It("reports the store status", func() {
			router.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, server.HealthEndpoint, nil))
			Expect(writer.Code).To(Equal(http.StatusOK))
			Expect(writer.Body.String()).To(ContainSubstring(`"status":"UP"`))
		})
		It("is unavailable when the store is down", func() {
			down := storage.NewRedisStore("localhost:1", false, storage.DefaultRedisDb,
				50*time.Millisecond, 1)
			router = server.NewRouter(&server.Config{Store: down})
			router.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, server.HealthEndpoint, nil))
			Expect(writer.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Context("when creating machines", func() {
		It("stores them in their initial state", func() {
			req := httptest.NewRequest(http.MethodPost, path(order.Kind), readerFrom(server.MachineRequest{
				ID:      "o-1",
				Context: json.RawMessage(`{"symbol": "AAPL", "quantity": "100"}`),
			}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusCreated))
			Expect(writer.Header().Get(server.Location)).To(Equal(path(order.Kind, "o-1")))

			snap, err := storage.Load[order.Context](ctx, store, order.Kind, "o-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(snap.CurrentState).To(Equal(order.Pending))
			Expect(snap.Context.Symbol).To(Equal("AAPL"))
			Expect(snap.Context.OrderID).To(Equal("o-1"))
			Expect(snap.Context.Quantity.Equal(decimal.NewFromInt(100))).To(BeTrue())
		})
		It("generates missing IDs", func() {
			req := httptest.NewRequest(http.MethodPost, path(kyc.Kind), readerFrom(server.MachineRequest{}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusCreated))

			var response server.MachineResponse
			Expect(json.NewDecoder(writer.Body).Decode(&response)).To(Succeed())
			Expect(response.ID).ToNot(BeEmpty())
			ids, err := store.GetAllInState(ctx, kyc.Kind, kyc.Unverified)
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(ConsistOf(response.ID))
		})
		It("refuses to overwrite existing machines", func() {
			Expect(storage.Save(ctx, store, kyc.New("u-1").Machine)).To(Succeed())
			req := httptest.NewRequest(http.MethodPost, path(kyc.Kind), readerFrom(server.MachineRequest{ID: "u-1"}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusConflict))
		})
		It("fails for unknown kinds and invalid contexts", func() {
			req := httptest.NewRequest(http.MethodPost, path("spaceship"), readerFrom(server.MachineRequest{}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusNotFound))

			writer = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodPost, path(order.Kind), readerFrom(server.MachineRequest{
				ID: "o-2", Context: json.RawMessage(`{"quantity": "lots"}`),
			}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusBadRequest))

			writer = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodPost, path(order.Kind), strings.NewReader("{not json"))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("when looking up machines", func() {
		BeforeEach(func() {
			m := order.New("o-7", decimal.NewFromInt(10), audit.Option[order.Context](audit.StoreSink{Log: store}))
			m.SetContext(func(c *order.Context) { c.ValidParams = true })
			Expect(m.Fire(order.Submit, fsm.ByActor("trader-1")).OK()).To(BeTrue())
			Expect(storage.Save(ctx, store, m.Machine)).To(Succeed())
		})
		It("returns the snapshot", func() {
			router.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, path(order.Kind, "o-7"), nil))
			Expect(writer.Code).To(Equal(http.StatusOK))

			var response server.MachineResponse
			Expect(json.NewDecoder(writer.Body).Decode(&response)).To(Succeed())
			Expect(response).To(Respect(server.MachineResponse{Kind: order.Kind, ID: "o-7"}))
			var snap fsm.Snapshot[order.Context]
			Expect(json.Unmarshal(response.Snapshot, &snap)).To(Succeed())
			Expect(snap.CurrentState).To(Equal(order.Submitted))
		})
		It("returns the audit history", func() {
			router.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, path(order.Kind, "o-7", "history"), nil))
			Expect(writer.Code).To(Equal(http.StatusOK))

			var response server.HistoryResponse
			Expect(json.NewDecoder(writer.Body).Decode(&response)).To(Succeed())
			Expect(response.Records).To(HaveLen(1))
			Expect(response.Records[0]).To(Respect(fsm.TransitionRecord{
				From: order.Pending, To: order.Submitted, Event: order.Submit,
			}))
		})
		It("lists the machines in a state", func() {
			req := httptest.NewRequest(http.MethodGet, path(order.Kind)+"?state=submitted", nil)
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusOK))

			var response server.MachinesResponse
			Expect(json.NewDecoder(writer.Body).Decode(&response)).To(Succeed())
			Expect(response.IDs).To(ConsistOf("o-7"))
		})
		It("returns 404 for missing machines", func() {
			router.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, path(order.Kind, "o-8"), nil))
			Expect(writer.Code).To(Equal(http.StatusNotFound))
		})
	})

	Context("when sending events", func() {
		It("hands them over to the listener", func() {
			req := httptest.NewRequest(http.MethodPost, path(order.Kind, "o-1", "events"), readerFrom(server.EventRequest{
				Event:    order.Cancel,
				Patch:    json.RawMessage(`{"cancelledBy": "trader-1"}`),
				Metadata: fsm.WithReason("trader-1", "changed my mind"),
			}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusAccepted))

			var response server.EventResponse
			Expect(json.NewDecoder(writer.Body).Decode(&response)).To(Succeed())
			var evt pubsub.EventRequest
			Eventually(events).Should(Receive(&evt))
			Expect(evt).To(Respect(pubsub.EventRequest{
				EventID:  response.EventID,
				Kind:     order.Kind,
				ID:       "o-1",
				Event:    order.Cancel,
				Metadata: fsm.WithReason("trader-1", "changed my mind"),
			}))
			Expect(evt.Patch).To(MatchJSON(`{"cancelledBy": "trader-1"}`))
		})
		It("requires an event", func() {
			req := httptest.NewRequest(http.MethodPost, path(order.Kind, "o-1", "events"), readerFrom(server.EventRequest{}))
			router.ServeHTTP(writer, req)
			Expect(writer.Code).To(Equal(http.StatusBadRequest))
			Expect(events).ToNot(Receive())
		})
	})

	It("serves the metrics", func() {
		m := order.New("o-9", decimal.NewFromInt(1), metrics.Option[order.Context](collector))
		Expect(m.Fire(order.Fill, fsm.Metadata{}).Denied()).To(Equal(fsm.NoTransition))

		router.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, server.MetricsEndpoint, nil))
		Expect(writer.Code).To(Equal(http.StatusOK))
		Expect(writer.Body.String()).To(ContainSubstring(`lifecycle_denials_total{event="FILL",machine="order",reason="no_transition"} 1`))
	})
})
