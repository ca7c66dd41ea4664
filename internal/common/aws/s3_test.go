package aws

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockS3 struct {
	GetObjectFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *MockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return m.GetObjectFunc(ctx, params, optFns...)
}

func TestObjectStore_Get(t *testing.T) {
	mock := &MockS3{
		GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			assert.Equal(t, "attachments", *params.Bucket)
			assert.Equal(t, "notifications/4/policy.pdf", *params.Key)
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("%PDF"))}, nil
		},
	}

	data, err := NewObjectStore(mock, "attachments").Get(context.Background(), "notifications/4/policy.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestObjectStore_GetError(t *testing.T) {
	mock := &MockS3{
		GetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, errors.New("NoSuchKey")
		},
	}

	_, err := NewObjectStore(mock, "attachments").Get(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://attachments/missing.pdf")
}
