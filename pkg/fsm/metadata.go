/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

package fsm

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type MetadataKind string

const (
	MetaNone      MetadataKind = ""
	MetaActor     MetadataKind = "actor"
	MetaReason    MetadataKind = "reason"
	MetaReference MetadataKind = "reference"
	MetaOpaque    MetadataKind = "opaque"
)

// Metadata is attached to every TransitionRecord.
//
// It is a tagged union: Kind says which of the fields are meaningful.
// `actor` carries Actor; `reason` carries Actor and Reason; `reference` carries Ref (an
// external identifier such as a fill, settlement or processor id); `opaque` carries
// an arbitrary JSON-like document in Opaque, for anything that does not fit the
// other shapes.
type Metadata struct {
	Kind   MetadataKind
	Actor  string
	Reason string
	Ref    string
	Opaque *structpb.Struct
}

func ByActor(actor string) Metadata {
	return Metadata{Kind: MetaActor, Actor: actor}
}

func WithReason(actor, reason string) Metadata {
	return Metadata{Kind: MetaReason, Actor: actor, Reason: reason}
}

func ByReference(ref string) Metadata {
	return Metadata{Kind: MetaReference, Ref: ref}
}

// OpaqueMeta converts `values` into a structpb.Struct; it fails for values that have
// no JSON representation (channels, funcs, ...).
func OpaqueMeta(values map[string]interface{}) (Metadata, error) {
	s, err := structpb.NewStruct(values)
	if err != nil {
		return Metadata{}, fmt.Errorf("invalid opaque metadata: %w", err)
	}
	return Metadata{Kind: MetaOpaque, Opaque: s}, nil
}

// IsZero is true for the `none` variant.
func (m Metadata) IsZero() bool {
	return m.Kind == MetaNone
}

// Clone deep-copies the opaque payload, everything else is a value.
func (m Metadata) Clone() Metadata {
	if m.Opaque != nil {
		m.Opaque = proto.Clone(m.Opaque).(*structpb.Struct)
	}
	return m
}

type metadataJSON struct {
	Kind   MetadataKind    `json:"kind,omitempty"`
	Actor  string          `json:"actor,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Ref    string          `json:"ref,omitempty"`
	Opaque json.RawMessage `json:"opaque,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := metadataJSON{Kind: m.Kind}
	switch m.Kind {
	case MetaNone:
	case MetaActor:
		out.Actor = m.Actor
	case MetaReason:
		out.Actor, out.Reason = m.Actor, m.Reason
	case MetaReference:
		out.Ref = m.Ref
	case MetaOpaque:
		if m.Opaque != nil {
			data, err := protojson.Marshal(m.Opaque)
			if err != nil {
				return nil, err
			}
			out.Opaque = data
		}
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", m.Kind)
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var in metadataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Metadata{Kind: in.Kind}
	switch in.Kind {
	case MetaNone:
	case MetaActor:
		m.Actor = in.Actor
	case MetaReason:
		m.Actor, m.Reason = in.Actor, in.Reason
	case MetaReference:
		m.Ref = in.Ref
	case MetaOpaque:
		m.Opaque = &structpb.Struct{}
		if len(in.Opaque) > 0 {
			if err := protojson.Unmarshal(in.Opaque, m.Opaque); err != nil {
				return fmt.Errorf("invalid opaque metadata: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown metadata kind %q", in.Kind)
	}
	return nil
}
