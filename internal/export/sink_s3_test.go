package export

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

type fakePresigner struct {
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://exports.example.test/" + *in.Key + "?X-Amz-Signature=abc"}, nil
}

func TestS3SinkPut(t *testing.T) {
	t.Run("encrypts at rest and returns a short-lived link", func(t *testing.T) {
		putter := &fakePutter{}
		presigner := &fakePresigner{}
		sink := newS3Sink(putter, presigner, "vaultline-exports", 10*time.Minute)

		url, err := sink.Put(context.Background(), "exports/a/b.json", []byte(`{"ok":true}`))
		require.NoError(t, err)

		assert.Equal(t, "https://exports.example.test/exports/a/b.json?X-Amz-Signature=abc", url)
		assert.Equal(t, "vaultline-exports", *putter.input.Bucket)
		assert.Equal(t, types.ServerSideEncryptionAes256, putter.input.ServerSideEncryption)
		assert.Equal(t, `{"ok":true}`, string(putter.body))
		assert.Equal(t, 10*time.Minute, presigner.expires)
	})

	t.Run("defaults the link lifetime", func(t *testing.T) {
		presigner := &fakePresigner{}
		sink := newS3Sink(&fakePutter{}, presigner, "bucket", 0)
		_, err := sink.Put(context.Background(), "k", nil)
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, presigner.expires)
	})

	t.Run("put failure returns no link", func(t *testing.T) {
		sink := newS3Sink(&fakePutter{err: errors.New("access denied")}, &fakePresigner{}, "bucket", time.Minute)
		url, err := sink.Put(context.Background(), "k", []byte("x"))
		require.Error(t, err)
		assert.Empty(t, url)
	})
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{Region: "eu-west-3"})
	require.Error(t, err)
}
