/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package fsm_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

var _ = Describe("A Driver", func() {
	var (
		driver   fsm.Driver
		snapshot []byte
	)
	BeforeEach(func() {
		create := func(id string, t ticket) *fsm.Machine[ticket] {
			cfg := ticketConfig(id)
			cfg.Context = t
			return fsm.MustNew(cfg)
		}
		driver = fsm.NewDriver[ticket]("ticket", create, func(s fsm.Snapshot[ticket]) (*fsm.Machine[ticket], error) {
			m := fsm.MustNew(ticketConfig(s.ID))
			return m, m.Restore(s)
		})
		m := fsm.MustNew(ticketConfig("t-100"))
		m.Fire(submit, fsm.Metadata{})
		var err error
		snapshot, err = json.Marshal(m.Serialize())
		Expect(err).ToNot(HaveOccurred())
	})

	It("merges the patch before firing the event", func() {
		Expect(driver.Kind()).To(Equal("ticket"))
		out, res, err := driver.Apply(context.Background(), snapshot, fsm.Request{
			Event:    approve,
			Patch:    json.RawMessage(`{"approved": true}`),
			Metadata: fsm.ByActor("bob"),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.OK()).To(BeTrue())

		var updated fsm.Snapshot[ticket]
		Expect(json.Unmarshal(out, &updated)).To(Succeed())
		Expect(updated.CurrentState).To(Equal(closed))
		Expect(updated.Context.Approved).To(BeTrue())
		Expect(updated.History).To(HaveLen(2))
	})
	It("returns denials in the result", func() {
		out, res, err := driver.Apply(context.Background(), snapshot, fsm.Request{Event: approve})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Denied()).To(Equal(fsm.GuardFailed))

		var unchanged fsm.Snapshot[ticket]
		Expect(json.Unmarshal(out, &unchanged)).To(Succeed())
		Expect(unchanged.CurrentState).To(Equal(review))
	})
	It("creates machines in their initial state", func() {
		out, err := driver.Create("t-7", json.RawMessage(`{"owner": "alice"}`))
		Expect(err).ToNot(HaveOccurred())
		var created fsm.Snapshot[ticket]
		Expect(json.Unmarshal(out, &created)).To(Succeed())
		Expect(created.ID).To(Equal("t-7"))
		Expect(created.CurrentState).To(Equal(open))
		Expect(created.Context.Owner).To(Equal("alice"))
		Expect(created.History).To(BeEmpty())

		_, err = driver.Create("", nil)
		Expect(err).To(HaveOccurred())
		_, err = driver.Create("t-8", json.RawMessage(`[]`))
		Expect(err).To(HaveOccurred())
	})
	It("fails on invalid snapshots", func() {
		_, _, err := driver.Apply(context.Background(), []byte(`not json`), fsm.Request{Event: approve})
		Expect(err).To(HaveOccurred())
		_, _, err = driver.Apply(context.Background(), []byte(`{"id":"t-1","currentState":"limbo"}`),
			fsm.Request{Event: approve})
		Expect(err).To(MatchError(fsm.ErrUndeclaredState))
	})
})
