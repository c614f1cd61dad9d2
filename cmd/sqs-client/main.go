/*
 * Copyright (c) 2022 AlertAvert.com.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Author: Marco Massenzio (marco@alertavert.com)
 */

// sqs-client simulates an upstream service sending an event, with the context facts it
// has verified, to the lifecycle server's events queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"

	"github.com/massenz/go-lifecycle/pkg/fsm"
	"github.com/massenz/go-lifecycle/pkg/pubsub"
)

func main() {
	endpoint := flag.String("endpoint", "", "Use http://localhost:4566 to use LocalStack")
	q := flag.String("q", "", "The SQS Queue to send an Event to")
	kind := flag.String("kind", "order", "The kind of machine: order, kyc, payment or prediction")
	id := flag.String("dest", "", "The ID for the machine to send an Event to")
	event := flag.String("evt", "", "The Event for the machine")
	patch := flag.String("patch", "", "(optional) JSON object merged into the machine's context "+
		"before the event, e.g. '{\"validParams\": true}'")
	actor := flag.String("actor", "sqs-client", "Who is sending the event")
	reason := flag.String("reason", "", "(optional) Why the event is sent")
	flag.Parse()

	if *id == "" || *event == "" {
		fail(fmt.Errorf("must specify both of -dest and -evt"))
	}
	if *patch != "" && !json.Valid([]byte(*patch)) {
		fail(fmt.Errorf("-patch is not valid JSON: %s", *patch))
	}
	if os.Getenv("AWS_REGION") == "" {
		_ = os.Setenv("AWS_REGION", "us-west-2")
	}
	var awsEndpoint *string
	if *endpoint != "" {
		awsEndpoint = endpoint
	}
	client, err := pubsub.NewSqsClient(awsEndpoint)
	if err != nil {
		fail(err)
	}
	queueUrl, err := pubsub.GetQueueUrl(client, *q)
	if err != nil {
		fail(err)
	}

	md := fsm.ByActor(*actor)
	if *reason != "" {
		md = fsm.WithReason(*actor, *reason)
	}
	request := pubsub.EventRequest{
		// Both are optional, the server generates them when missing.
		EventID:   uuid.NewString(),
		Timestamp: time.Now(),

		Kind:     *kind,
		ID:       *id,
		Event:    fsm.Event(*event),
		Metadata: md,
	}
	if *patch != "" {
		request.Patch = json.RawMessage(*patch)
	}
	fmt.Printf("Publishing Event `%s` for %s `%s` to SQS Topic: [%s]\n", *event, *kind, *id, *q)

	body, err := pubsub.EncodeRequest(request)
	if err != nil {
		fail(err)
	}
	_, err = client.SendMessageWithContext(context.Background(), &sqs.SendMessageInput{
		MessageBody: aws.String(body),
		QueueUrl:    &queueUrl,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Sent event [%s] to queue %s\n", request.EventID, *q)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
