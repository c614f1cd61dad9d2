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
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"google.golang.org/protobuf/proto"

	"github.com/massenz/go-lifecycle/pkg/fsm"
)

var _ = Describe("Transition metadata", func() {
	It("is tagged by kind when serialized", func() {
		data, err := json.Marshal(fsm.WithReason("admin-7", "chargeback"))
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(MatchJSON(`{"kind":"reason","actor":"admin-7","reason":"chargeback"}`))

		data, err = json.Marshal(fsm.Metadata{})
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(MatchJSON(`{}`))
	})
	It("only serializes the fields of its kind", func() {
		md := fsm.ByReference("fill-99")
		md.Actor = "ignored"
		data, err := json.Marshal(md)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(MatchJSON(`{"kind":"reference","ref":"fill-99"}`))
	})
	It("carries opaque documents", func() {
		md, err := fsm.OpaqueMeta(map[string]interface{}{
			"venue": "XNAS",
			"fills": []interface{}{10.0, 30.0},
		})
		Expect(err).ToNot(HaveOccurred())
		data, err := json.Marshal(md)
		Expect(err).ToNot(HaveOccurred())

		var decoded fsm.Metadata
		Expect(json.Unmarshal(data, &decoded)).To(Succeed())
		Expect(decoded.Kind).To(Equal(fsm.MetaOpaque))
		Expect(proto.Equal(decoded.Opaque, md.Opaque)).To(BeTrue())
		Expect(decoded.Opaque.AsMap()["venue"]).To(Equal("XNAS"))
	})
	It("rejects values without a JSON representation", func() {
		_, err := fsm.OpaqueMeta(map[string]interface{}{"ch": make(chan int)})
		Expect(err).To(HaveOccurred())
	})
	It("rejects unknown kinds", func() {
		var md fsm.Metadata
		Expect(json.Unmarshal([]byte(`{"kind":"telepathy"}`), &md)).ToNot(Succeed())
		_, err := json.Marshal(fsm.Metadata{Kind: "telepathy"})
		Expect(err).To(HaveOccurred())
	})
	It("clones opaque payloads", func() {
		md, _ := fsm.OpaqueMeta(map[string]interface{}{"a": "b"})
		cp := md.Clone()
		cp.Opaque.Fields["a"] = nil
		Expect(md.Opaque.AsMap()["a"]).To(Equal("b"))
	})
})
