package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3sync/internal/domain"
)

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "", normalizeEndpoint("  "))
	assert.Equal(t, "https://s3.example.com", normalizeEndpoint("s3.example.com"))
	assert.Equal(t, "http://localhost:9000", normalizeEndpoint("http://localhost:9000/"))
}

func TestBucketAlreadyOwned(t *testing.T) {
	assert.True(t, bucketAlreadyOwned(&types.BucketAlreadyOwnedByYou{}))
	assert.True(t, bucketAlreadyOwned(fmt.Errorf("create: %w", &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"})))
	assert.False(t, bucketAlreadyOwned(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, bucketAlreadyOwned(errors.New("boom")))
}

const listPage = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>media-bucket</Name>
  <Prefix>static/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>static/a.txt</Key><LastModified>2024-01-02T03:04:05.000Z</LastModified><Size>3</Size></Contents>
  <Contents><Key>static/css/site.css</Key><LastModified>2024-02-03T04:05:06.000Z</LastModified><Size>10</Size></Contents>
</ListBucketResult>`

const accessDenied = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied</Message><RequestId>1</RequestId></Error>`

func newTestStore(t *testing.T, handler http.HandlerFunc) *S3Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := Connect(context.Background(), ConnectOptions{
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		Host:            srv.URL,
		MaxAttempts:     1,
	})
	require.NoError(t, err)
	return NewS3Store(client)
}

func TestListObjectsIteratesLazily(t *testing.T) {
	var requests atomic.Int32
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/media-bucket", r.URL.Path)
		assert.Equal(t, "static/", r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, listPage)
	})

	it := store.ListObjects(context.Background(), "media-bucket", "static/")
	assert.Zero(t, requests.Load())

	first, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "static/a.txt", first.Key)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), first.LastModified)
	assert.Equal(t, int64(3), first.Size)

	second, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "static/css/site.css", second.Key)

	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), requests.Load())
}

func TestRejectionsBecomeRemoteErrors(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, accessDenied)
	})
	ctx := context.Background()

	err := store.DeleteObject(ctx, "media-bucket", "old.jpg")
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, domain.OpDelete, remote.Op)
	assert.Equal(t, "old.jpg", remote.Key)
	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AccessDenied", apiErr.ErrorCode())

	err = store.SetPublicRead(ctx, "media-bucket", "a.jpg")
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, domain.OpACL, remote.Op)

	_, _, err = store.ListObjects(ctx, "media-bucket", "").Next(ctx)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, domain.OpList, remote.Op)
}
