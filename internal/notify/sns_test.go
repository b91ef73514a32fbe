package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3sync/internal/domain"
)

type mockSNSClient struct {
	PublishRequests []*sns.PublishInput
	Err             error
}

func (c *mockSNSClient) PublishMessage(ctx context.Context, msg *sns.PublishInput) error {
	c.PublishRequests = append(c.PublishRequests, msg)
	return c.Err
}

func TestNotifyFailures(t *testing.T) {
	client := &mockSNSClient{}
	n := &SNSNotifier{Client: client, Topic: "arn:aws:sns:us-east-1:123:sync"}

	err := n.NotifyFailures(context.Background(), "/srv/media", "media-bucket", []domain.Failure{
		{Action: "upload", Key: "x.jpg", Err: errors.New("access denied")},
		{Action: "delete", Key: "old.jpg", Err: errors.New("slow down")},
	})
	require.NoError(t, err)

	require.Len(t, client.PublishRequests, 1)
	req := client.PublishRequests[0]
	assert.Equal(t, "Sync errors: /srv/media -> media-bucket", aws.ToString(req.Subject))
	assert.Equal(t, "arn:aws:sns:us-east-1:123:sync", aws.ToString(req.TopicArn))
	msg := aws.ToString(req.Message)
	assert.Contains(t, msg, "Action: upload\nKey: x.jpg\nError: access denied")
	assert.Contains(t, msg, "Action: delete\nKey: old.jpg\nError: slow down")
}

func TestNotifySkipsCleanRuns(t *testing.T) {
	client := &mockSNSClient{}
	n := &SNSNotifier{Client: client, Topic: "topic"}

	require.NoError(t, n.NotifyFailures(context.Background(), "/srv/media", "b", nil))
	assert.Empty(t, client.PublishRequests)
}

func TestNotifyTruncatesLargeReports(t *testing.T) {
	client := &mockSNSClient{}
	n := &SNSNotifier{Client: client, Topic: "topic"}

	failures := make([]domain.Failure, 5000)
	for i := range failures {
		failures[i] = domain.Failure{Action: "upload", Key: strings.Repeat("k", 100), Err: errors.New("boom")}
	}
	require.NoError(t, n.NotifyFailures(context.Background(), strings.Repeat("r", 200), "b", failures))

	req := client.PublishRequests[0]
	assert.LessOrEqual(t, len(aws.ToString(req.Message)), maxMessageBytes)
	assert.Contains(t, aws.ToString(req.Message), "more\n")
	assert.Len(t, aws.ToString(req.Subject), maxSubjectChars)
}

func TestNotifySubjectIsASCII(t *testing.T) {
	client := &mockSNSClient{}
	n := &SNSNotifier{Client: client, Topic: "topic"}

	root := "/srv/médias/" + strings.Repeat("é", 120)
	require.NoError(t, n.NotifyFailures(context.Background(), root, "b", []domain.Failure{{Action: "upload", Key: "k", Err: errors.New("x")}}))

	subject := aws.ToString(client.PublishRequests[0].Subject)
	assert.True(t, strings.HasPrefix(subject, "Sync errors: /srv/m?dias/??"))
	assert.Len(t, subject, maxSubjectChars)
	for _, r := range subject {
		assert.True(t, r >= 0x20 && r <= 0x7e, "unexpected %q", r)
	}
}

func TestNotifyWrapsPublishError(t *testing.T) {
	client := &mockSNSClient{Err: errors.New("throttled")}
	n := &SNSNotifier{Client: client, Topic: "topic"}

	err := n.NotifyFailures(context.Background(), "/r", "b", []domain.Failure{{Action: "upload", Key: "k", Err: errors.New("x")}})
	assert.ErrorContains(t, err, "throttled")
}

func TestNewWithoutTopicIsNop(t *testing.T) {
	n, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
}
