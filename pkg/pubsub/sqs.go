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
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// NewSqsClient connects to AWS and obtains an SQS client; passing `nil` as the
// `awsEndpointUrl` will connect by default to AWS; use a different (possibly local) URL for a
// LocalStack test deployment, in which case AWS_REGION must be set.
func NewSqsClient(awsEndpointUrl *string) (sqsiface.SQSAPI, error) {
	opts := session.Options{SharedConfigState: session.SharedConfigEnable}
	if awsEndpointUrl != nil {
		region, found := os.LookupEnv("AWS_REGION")
		if !found {
			return nil, fmt.Errorf("no AWS Region configured, cannot connect to SQS provider at %s",
				*awsEndpointUrl)
		}
		opts.Config = aws.Config{
			Endpoint: awsEndpointUrl,
			Region:   &region,
		}
	}
	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, err
	}
	return sqs.New(sess), nil
}

// GetQueueUrl retrieves from AWS SQS the URL for the queue, given the topic name
func GetQueueUrl(client sqsiface.SQSAPI, topic string) (string, error) {
	out, err := client.GetQueueUrl(&sqs.GetQueueUrlInput{
		QueueName: &topic,
	})
	if err != nil {
		return "", fmt.Errorf("cannot get SQS Queue URL for topic %s: %w", topic, err)
	}
	if out.QueueUrl == nil {
		return "", fmt.Errorf("no SQS Queue URL for topic %s", topic)
	}
	return *out.QueueUrl, nil
}
