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
	"encoding/base64"
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoTextMarshaler marshals Protobuf messages to and from text, so that they can be
// sent as the body of SQS messages.
type ProtoTextMarshaler interface {
	MarshalToText(proto.Message) (string, error)
	UnmarshalFromText(string, proto.Message) error
}

// Base64ProtoMarshaler encodes the Protobuf message as a Base64 string.
type Base64ProtoMarshaler struct{}

func (m *Base64ProtoMarshaler) MarshalToText(msg proto.Message) (string, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (m *Base64ProtoMarshaler) UnmarshalFromText(text string, msg proto.Message) error {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}

// Module-level variable to use as a default implementation of the `ProtoTextMarshaler` interface.
var p ProtoTextMarshaler = &Base64ProtoMarshaler{}

// Encode carries `v` (an EventOutcome or audit.Entry) as a
// google.protobuf.Struct, which keeps the messages readable by any Protobuf consumer without
// a schema of their own.
func Encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var s structpb.Struct
	if err = protojson.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return p.MarshalToText(&s)
}

// Decode is the inverse of Encode.
func Decode(text string, v interface{}) error {
	var s structpb.Struct
	if err := p.UnmarshalFromText(text, &s); err != nil {
		return err
	}
	data, err := protojson.Marshal(&s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
