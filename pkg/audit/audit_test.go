/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/massenz/go-lifecycle/pkg/audit"
	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/payment"
	"github.com/massenz/go-lifecycle/pkg/storage"
)

var errDown = errors.New("audit backend down")

func newPayment(sink audit.Sink) *payment.Machine {
	m := payment.New("pay-1", decimal.NewFromInt(20), "EUR", audit.Option[payment.Context](sink))
	m.SetContext(func(c *payment.Context) {
		c.PaymentMethodID = "pm_1"
		c.PaymentMethodValid = true
	})
	return m
}

var _ = Describe("Audit sinks", func() {
	It("append every transition to the store", func() {
		store := storage.NewInMemoryStore()
		m := newPayment(audit.StoreSink{Log: store})
		Expect(m.Fire(payment.Process, fsm.ByActor("checkout")).OK()).To(BeTrue())
		m.SetContext(func(c *payment.Context) { c.FailureReason = "timeout" })
		Expect(m.Fire(payment.Fail, fsm.Metadata{}).OK()).To(BeTrue())
		Expect(m.Fire(payment.Retry, fsm.Metadata{}).OK()).To(BeTrue())

		records, err := store.GetRecords(context.Background(), payment.Kind, "pay-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(3))
		for i, rec := range m.History() {
			Expect(records[i].ID).To(Equal(rec.ID))
			Expect(records[i].To).To(Equal(rec.To))
		}
		Expect(records[0].Metadata).To(Equal(fsm.ByActor("checkout")))
	})

	It("are not written for denied transitions", func() {
		var entries []audit.Entry
		m := newPayment(audit.SinkFunc(func(_ context.Context, e audit.Entry) error {
			entries = append(entries, e)
			return nil
		}))
		Expect(m.Fire(payment.Settle, fsm.Metadata{}).OK()).To(BeFalse())
		Expect(entries).To(BeEmpty())
		Expect(m.Fire(payment.Process, fsm.Metadata{}).OK()).To(BeTrue())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Kind).To(Equal(payment.Kind))
		Expect(entries[0].MachineID).To(Equal("pay-1"))
	})

	It("report failures without rolling back", func() {
		m := newPayment(audit.SinkFunc(func(context.Context, audit.Entry) error {
			return errDown
		}))
		res := m.Fire(payment.Process, fsm.Metadata{})
		Expect(res.OK()).To(BeTrue())
		Expect(m.State()).To(Equal(payment.Processing))
		Expect(res.HookErrors).To(HaveLen(1))
		Expect(res.Err()).To(MatchError(errDown))
	})

	It("write to all sinks of a MultiSink", func() {
		store := storage.NewInMemoryStore()
		var buf bytes.Buffer
		logs := &audit.LogSink{Logger: zerolog.New(&buf)}
		failing := audit.SinkFunc(func(context.Context, audit.Entry) error { return errDown })

		m := newPayment(audit.MultiSink{failing, audit.StoreSink{Log: store}, logs})
		res := m.Fire(payment.Process, fsm.WithReason("ops", "manual capture"))
		Expect(res.Err()).To(MatchError(errDown))

		records, _ := store.GetRecords(context.Background(), payment.Kind, "pay-1")
		Expect(records).To(HaveLen(1))

		var line map[string]interface{}
		Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
		Expect(line).To(HaveKeyWithValue("kind", "payment"))
		Expect(line).To(HaveKeyWithValue("from", "initiated"))
		Expect(line).To(HaveKeyWithValue("to", "processing"))
		Expect(line).To(HaveKeyWithValue("message", "transition"))
		Expect(line["metadata"]).To(HaveKeyWithValue("reason", "manual capture"))
	})
})
