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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	zlog "github.com/rs/zerolog/log"

	"github.com/massenz/go-lifecycle/pkg/audit"
)

// NewSqsPublisher creates a Publisher which sends the outcomes received on `channel` to SQS.
func NewSqsPublisher(channel <-chan EventOutcome, client sqsiface.SQSAPI) *SqsPublisher {
	return &SqsPublisher{
		logger:        zlog.With().Str("logger", "sqs-pub").Logger(),
		client:        client,
		notifications: channel,
	}
}

// Publish sends every outcome from the notifications channel to `topic`, until the channel
// is closed.
func (s *SqsPublisher) Publish(topic string) error {
	queueUrl, err := GetQueueUrl(s.client, topic)
	if err != nil {
		return err
	}
	for outcome := range s.notifications {
		if err := s.send(context.Background(), queueUrl, outcome); err != nil {
			s.logger.Error().Err(err).Msgf("Cannot publish outcome for event %s", outcome.EventID)
		}
	}
	s.logger.Info().Msg("SQS publisher exiting")
	return nil
}

// AuditSink returns an audit.Sink which publishes every entry to `topic`.
func (s *SqsPublisher) AuditSink(topic string) (audit.Sink, error) {
	queueUrl, err := GetQueueUrl(s.client, topic)
	if err != nil {
		return nil, err
	}
	return audit.SinkFunc(func(ctx context.Context, entry audit.Entry) error {
		return s.send(ctx, queueUrl, entry)
	}), nil
}

func (s *SqsPublisher) send(ctx context.Context, queueUrl string, v interface{}) error {
	body, err := Encode(v)
	if err != nil {
		return err
	}
	msgResult, err := s.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageBody: aws.String(body),
		QueueUrl:    &queueUrl,
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Msgf("Message successfully posted to SQS: %s", aws.StringValue(msgResult.MessageId))
	return nil
}
