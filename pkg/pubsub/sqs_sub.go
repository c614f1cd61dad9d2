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
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// NewSqsSubscriber creates a Subscriber which forwards the EventRequests received on SQS to
// the `eventsChannel`.
func NewSqsSubscriber(eventsChannel chan<- EventRequest, client sqsiface.SQSAPI) *SqsSubscriber {
	return &SqsSubscriber{
		logger:               zlog.With().Str("logger", "sqs-sub").Logger(),
		client:               client,
		events:               eventsChannel,
		Timeout:              DefaultVisibilityTimeout,
		PollingInterval:      DefaultPollingInterval,
		MessageRemoveRetries: DefaultRetries,
	}
}

// Subscribe polls the `topic` queue until `ctx` is done.
func (s *SqsSubscriber) Subscribe(ctx context.Context, topic string) error {
	queueUrl, err := GetQueueUrl(s.client, topic)
	if err != nil {
		return err
	}
	s.logger = s.logger.With().Str("topic", topic).Str("queue", queueUrl).Logger()
	s.logger.Info().Msg("SQS subscriber started")

	timeout := int64(s.Timeout.Seconds())
	for {
		start := time.Now()
		s.logger.Trace().Msgf("Polling SQS at %v", start)
		msgResult, err := s.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
			AttributeNames: []*string{
				aws.String(sqs.MessageSystemAttributeNameSentTimestamp),
			},
			MessageAttributeNames: []*string{
				aws.String(sqs.QueueAttributeNameAll),
			},
			QueueUrl:            &queueUrl,
			MaxNumberOfMessages: aws.Int64(10),
			VisibilityTimeout:   &timeout,
		})
		if err == nil {
			if len(msgResult.Messages) > 0 {
				s.logger.Debug().Msgf("Got %d messages", len(msgResult.Messages))
			}
			for _, msg := range msgResult.Messages {
				s.ProcessMessage(ctx, msg, &queueUrl)
			}
		} else if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("error receiving SQS message")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("SQS Subscriber terminating")
			return nil
		case <-time.After(s.PollingInterval - time.Since(start)):
		}
	}
}

// ProcessMessage decodes the request in `msg` and, once it has been handed over to the
// events channel, removes it from the queue. Invalid messages are dropped.
func (s *SqsSubscriber) ProcessMessage(ctx context.Context, msg *sqs.Message, queueUrl *string) {
	msgId := aws.StringValue(msg.MessageId)
	s.logger.Trace().Str("message_id", msgId).Msg("processing SQS message")

	request, err := DecodeRequest(aws.StringValue(msg.Body))
	switch {
	case msg.Body == nil:
		s.logger.Error().Msgf("Message %s has no body", msgId)
	case err != nil:
		s.logger.Error().Err(err).Msgf("message %s has invalid body", msgId)
	case request.ID == "":
		s.logger.Error().Msgf("no Destination ID in message %s", msgId)
	default:
		// The Event ID and timestamp are optional and, if missing, will be generated here.
		if request.EventID == "" {
			request.EventID = uuid.NewString()
		}
		if request.Timestamp.IsZero() {
			request.Timestamp = time.Now()
		}
		select {
		case s.events <- request:
		case <-ctx.Done():
			// Left on the queue, it will be redelivered after the visibility timeout.
			return
		}
	}
	s.remove(msgId, queueUrl, msg.ReceiptHandle)
}

func (s *SqsSubscriber) remove(msgId string, queueUrl, receipt *string) {
	for i := 0; i < s.MessageRemoveRetries; i++ {
		s.logger.Debug().Msgf("removing message %s from SQS", msgId)
		_, err := s.client.DeleteMessage(&sqs.DeleteMessageInput{
			QueueUrl:      queueUrl,
			ReceiptHandle: receipt,
		})
		if err == nil {
			s.logger.Trace().Msgf("message %s removed", msgId)
			return
		}
		s.logger.Error().Err(err).Msgf("failed to remove message %s from SQS (attempt: %d)", msgId, i+1)
	}
}
