// Package notify reports per-item failures of a sync run.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"s3sync/internal/domain"
)

const (
	// SNS rejects messages above 256KB and subjects above 100 characters.
	maxMessageBytes = 256 * 1024
	maxSubjectChars = 100
)

// Notifier is told about the failures of a finished run.
type Notifier interface {
	NotifyFailures(ctx context.Context, root, bucket string, failures []domain.Failure) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyFailures(context.Context, string, string, []domain.Failure) error { return nil }

type SNSClientIface interface {
	PublishMessage(ctx context.Context, msg *sns.PublishInput) error
}

type SNSClient struct {
	Client *sns.Client
}

func (s *SNSClient) PublishMessage(ctx context.Context, msg *sns.PublishInput) error {
	_, err := s.Client.Publish(ctx, msg)
	return err
}

type Config struct {
	Topic           string
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
}

// New returns an SNS notifier for cfg.Topic, or Nop when no topic is set.
func New(ctx context.Context, cfg Config) (Notifier, error) {
	if cfg.Topic == "" {
		return Nop{}, nil
	}

	var opts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awscfg.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for sns: %w", err)
	}
	return &SNSNotifier{Client: &SNSClient{Client: sns.NewFromConfig(awsCfg)}, Topic: cfg.Topic}, nil
}

type SNSNotifier struct {
	Client SNSClientIface
	Topic  string
}

func (s *SNSNotifier) NotifyFailures(ctx context.Context, root, bucket string, failures []domain.Failure) error {
	if len(failures) == 0 {
		return nil
	}

	var body strings.Builder
	for i, f := range failures {
		entry := fmt.Sprintf("Action: %s\nKey: %s\nError: %v\n\n", f.Action, f.Key, f.Err)
		if body.Len()+len(entry) > maxMessageBytes-64 {
			fmt.Fprintf(&body, "... and %d more\n", len(failures)-i)
			break
		}
		body.WriteString(entry)
	}

	subject := asciiSubject(fmt.Sprintf("Sync errors: %s -> %s", root, bucket))

	if err := s.Client.PublishMessage(ctx, &sns.PublishInput{
		Message:  aws.String(body.String()),
		TopicArn: aws.String(s.Topic),
		Subject:  aws.String(subject),
	}); err != nil {
		return fmt.Errorf("publish sync errors: %w", err)
	}
	return nil
}

// asciiSubject replaces anything outside printable ASCII, which SNS rejects
// in subjects, and cuts the result to the subject limit.
func asciiSubject(s string) string {
	var b strings.Builder
	for _, r := range s {
		if b.Len() == maxSubjectChars {
			break
		}
		if r < 0x20 || r > 0x7e {
			r = '?'
		}
		b.WriteRune(r)
	}
	return b.String()
}
