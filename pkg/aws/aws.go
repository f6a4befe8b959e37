// Package aws holds the run's AWS connection: an S3 client for the source
// resolver and sink, plus the optional SQS/SNS job-completion broadcast
// carried over from the teacher's alerting connection.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Connection bundles the AWS clients a run may need: S3 for reading sources
// and writing sinks, SQS/SNS for the optional completion broadcast.
type Connection struct {
	s3  *s3.Client
	sqs *sqs.Client
	sns *sns.Client

	queueURL string
	topicARN string
}

func New(awscfg *aws.Config, queueURL, topicARN string) (*Connection, error) {
	return &Connection{
		s3:       s3.NewFromConfig(*awscfg),
		sqs:      sqs.NewFromConfig(*awscfg),
		sns:      sns.NewFromConfig(*awscfg),
		queueURL: queueURL,
		topicARN: topicARN,
	}, nil
}

// S3 exposes the underlying S3 client for the source and sink packages.
func (c *Connection) S3() *s3.Client { return c.s3 }

func (c *Connection) SendSQSMessage(ctx context.Context, message string) error {
	if c.queueURL == "" {
		return fmt.Errorf("SQS queue URL is not configured")
	}

	_, err := c.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		MessageBody: &message,
		QueueUrl:    &c.queueURL,
	})

	return err
}

func (c *Connection) PublishSNSMessage(ctx context.Context, message string) error {
	if c.topicARN == "" {
		return fmt.Errorf("SNS topic ARN is not configured")
	}

	_, err := c.sns.Publish(ctx, &sns.PublishInput{
		Message:  &message,
		TopicArn: &c.topicARN,
	})

	return err
}

// BroadCastEvent fans a job-completion message out to whichever of
// SQS/SNS are configured. An unconfigured target is silently skipped
// rather than treated as an error, since the broadcast is an optional
// side channel.
func (c *Connection) BroadCastEvent(ctx context.Context, message string) error {
	if c.queueURL != "" {
		if err := c.SendSQSMessage(ctx, message); err != nil {
			return err
		}
	}

	if c.topicARN != "" {
		if err := c.PublishSNSMessage(ctx, message); err != nil {
			return err
		}
	}

	return nil
}
