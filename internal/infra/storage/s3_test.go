package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"html2image/internal/config"
)

type fakeS3 struct {
	put       *s3.PutObjectInput
	body      []byte
	deleted   string
	putErr    error
	headErr   error
	deleteErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewS3Store_Validation(t *testing.T) {
	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3Store(config.StorageConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("valid config creates store", func(t *testing.T) {
		store, err := NewS3Store(config.StorageConfig{
			Bucket:       "images",
			AccessKey:    "test-key",
			SecretKey:    "test-secret",
			Endpoint:     "localhost:9000",
			UsePathStyle: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "images", store.Bucket())
		assert.Equal(t, "us-east-1", store.region)
		assert.Equal(t, "https://localhost:9000", store.endpoint)
	})
}

func TestS3Store_PublicURL(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.StorageConfig
		endpoint string
		want     string
	}{
		{"aws", config.StorageConfig{Bucket: "b"}, "", "https://b.s3.sa-east-1.amazonaws.com/images/x.png"},
		{"custom endpoint", config.StorageConfig{Bucket: "b"}, "http://minio:9000", "http://minio:9000/b/images/x.png"},
		{"public base url", config.StorageConfig{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "http://minio:9000", "https://cdn.example.com/images/x.png"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newS3Store(&fakeS3{}, c.cfg, "sa-east-1", c.endpoint)
			assert.Equal(t, c.want, s.PublicURL("images/x.png"))
		})
	}
}

func TestS3Store_Put(t *testing.T) {
	client := &fakeS3{}
	s := newS3Store(client, config.StorageConfig{Bucket: "b"}, "us-east-1", "")

	url, err := s.Put(context.Background(), "images/a.png", []byte("png"), "image/png", map[string]string{"width": "10"})
	require.NoError(t, err)
	assert.Equal(t, "https://b.s3.us-east-1.amazonaws.com/images/a.png", url)
	assert.Equal(t, "b", aws.ToString(client.put.Bucket))
	assert.Equal(t, "image/png", aws.ToString(client.put.ContentType))
	assert.Equal(t, types.ObjectCannedACLPublicRead, client.put.ACL)
	assert.Equal(t, "10", client.put.Metadata["width"])
	assert.Equal(t, []byte("png"), client.body)

	_, err = s.Put(context.Background(), "", nil, "image/png", nil)
	assert.Error(t, err)
}

func TestS3Store_PutWithoutACL(t *testing.T) {
	client := &fakeS3{}
	publicRead := false
	s := newS3Store(client, config.StorageConfig{Bucket: "b", PublicRead: &publicRead}, "us-east-1", "")
	_, err := s.Put(context.Background(), "images/a.png", []byte("png"), "image/png", nil)
	require.NoError(t, err)
	assert.Empty(t, client.put.ACL)
}

func TestS3Store_PingAndDelete(t *testing.T) {
	client := &fakeS3{}
	s := newS3Store(client, config.StorageConfig{Bucket: "b"}, "us-east-1", "")
	require.NoError(t, s.Ping(context.Background()))

	client.headErr = &types.NotFound{}
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	client.headErr = errors.New("access denied")
	assert.Error(t, s.Ping(context.Background()))

	require.NoError(t, s.Delete(context.Background(), "images/a.png"))
	assert.Equal(t, "images/a.png", client.deleted)
	assert.Error(t, s.Delete(context.Background(), ""))
}
