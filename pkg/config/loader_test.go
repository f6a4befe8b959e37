package config

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct{ mock.Mock }

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

type mockSSMClient struct{ mock.Mock }

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ssm.GetParameterOutput), args.Error(1)
}

type mockSecretsManagerClient struct{ mock.Mock }

func (m *mockSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretsmanager.GetSecretValueOutput), args.Error(1)
}

const testConfigYAML = `
recordType: event
source: s3://bucket/events.jsonl
workers: 4
`

func TestS3Loader(t *testing.T) {
	ctx := context.Background()

	t.Run("successful load", func(t *testing.T) {
		mockClient := new(mockS3Client)
		loader := NewS3Loader("test-bucket", "test-key", mockClient)

		mockClient.On("GetObject", ctx, &s3.GetObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("test-key"),
		}).Return(&s3.GetObjectOutput{
			Body: io.NopCloser(strings.NewReader(testConfigYAML)),
		}, nil)

		opts, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "event", opts.RecordType)
		assert.Equal(t, 4, opts.Workers)
		mockClient.AssertExpectations(t)
	})

	t.Run("S3 error", func(t *testing.T) {
		mockClient := new(mockS3Client)
		loader := NewS3Loader("test-bucket", "test-key", mockClient)

		mockClient.On("GetObject", ctx, &s3.GetObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("test-key"),
		}).Return(nil, errors.New("S3 error"))

		opts, err := loader.Load(ctx)
		assert.Error(t, err)
		assert.Nil(t, opts)
		mockClient.AssertExpectations(t)
	})

	t.Run("invalid configuration fails validation", func(t *testing.T) {
		mockClient := new(mockS3Client)
		loader := NewS3Loader("test-bucket", "test-key", mockClient)

		mockClient.On("GetObject", ctx, &s3.GetObjectInput{
			Bucket: aws.String("test-bucket"),
			Key:    aws.String("test-key"),
		}).Return(&s3.GetObjectOutput{
			Body: io.NopCloser(strings.NewReader("recordType: not-a-real-type\n")),
		}, nil)

		opts, err := loader.Load(ctx)
		assert.Error(t, err)
		assert.Nil(t, opts)
		mockClient.AssertExpectations(t)
	})
}

func TestSSMLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("successful load", func(t *testing.T) {
		mockClient := new(mockSSMClient)
		loader := NewSSMLoader("/test/parameter", mockClient)

		configValue := testConfigYAML
		mockClient.On("GetParameter", ctx, &ssm.GetParameterInput{
			Name:           aws.String("/test/parameter"),
			WithDecryption: aws.Bool(true),
		}).Return(&ssm.GetParameterOutput{
			Parameter: &ssmtypes.Parameter{Value: &configValue},
		}, nil)

		opts, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "event", opts.RecordType)
		mockClient.AssertExpectations(t)
	})

	t.Run("SSM error", func(t *testing.T) {
		mockClient := new(mockSSMClient)
		loader := NewSSMLoader("/test/parameter", mockClient)

		mockClient.On("GetParameter", ctx, &ssm.GetParameterInput{
			Name:           aws.String("/test/parameter"),
			WithDecryption: aws.Bool(true),
		}).Return(nil, errors.New("SSM error"))

		opts, err := loader.Load(ctx)
		assert.Error(t, err)
		assert.Nil(t, opts)
		mockClient.AssertExpectations(t)
	})
}

func TestSecretsManagerLoader(t *testing.T) {
	ctx := context.Background()

	mockClient := new(mockSecretsManagerClient)
	loader := NewSecretsManagerLoader("test-secret", mockClient)

	secretString := testConfigYAML
	mockClient.On("GetSecretValue", ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String("test-secret"),
	}).Return(&secretsmanager.GetSecretValueOutput{SecretString: &secretString}, nil)

	opts, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "event", opts.RecordType)
	mockClient.AssertExpectations(t)
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/ingest.yaml"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLocalLoader(t *testing.T) {
	t.Run("file exists and validates", func(t *testing.T) {
		path := writeTempConfig(t, testConfigYAML)
		loader := NewLocalLoader(path)

		opts, err := loader.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "event", opts.RecordType)
		assert.Contains(t, loader.String(), path)
	})

	t.Run("file not found", func(t *testing.T) {
		loader := NewLocalLoader("/non/existent/file.yaml")
		opts, err := loader.Load(context.Background())
		assert.Error(t, err)
		assert.Nil(t, opts)
	})
}

type mockLoader struct {
	opts      *Options
	err       error
	loadCount int
	delay     time.Duration
	mu        sync.Mutex
}

func (m *mockLoader) Load(ctx context.Context) (*Options, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.loadCount++
	m.mu.Unlock()
	return m.opts, m.err
}

func (m *mockLoader) String() string { return "mockLoader" }

func TestCachedLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("cache hit", func(t *testing.T) {
		inner := &mockLoader{opts: &Options{RecordType: "event", Source: "x"}}
		cached := NewCachedLoader(inner, 5*time.Minute)

		opts1, err := cached.Load(ctx)
		require.NoError(t, err)
		opts2, err := cached.Load(ctx)
		require.NoError(t, err)

		assert.Same(t, opts1, opts2)
		assert.Equal(t, 1, inner.loadCount)
	})

	t.Run("cache expiry", func(t *testing.T) {
		inner := &mockLoader{opts: &Options{RecordType: "event", Source: "x"}}
		cached := NewCachedLoader(inner, 50*time.Millisecond)

		_, err := cached.Load(ctx)
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)
		_, err = cached.Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, inner.loadCount)
	})

	t.Run("concurrent access loads once", func(t *testing.T) {
		inner := &mockLoader{opts: &Options{RecordType: "event", Source: "x"}, delay: 20 * time.Millisecond}
		cached := NewCachedLoader(inner, 5*time.Minute)

		done := make(chan struct{}, 10)
		for i := 0; i < 10; i++ {
			go func() {
				_, err := cached.Load(ctx)
				assert.NoError(t, err)
				done <- struct{}{}
			}()
		}
		for i := 0; i < 10; i++ {
			<-done
		}

		assert.Equal(t, 1, inner.loadCount)
	})
}

func TestGetEnvFallback(t *testing.T) {
	os.Unsetenv("INGESTETL_TEST_VAR")
	assert.Equal(t, "fallback", getEnv("INGESTETL_TEST_VAR", "fallback"))

	os.Setenv("INGESTETL_TEST_VAR", "set")
	defer os.Unsetenv("INGESTETL_TEST_VAR")
	assert.Equal(t, "set", getEnv("INGESTETL_TEST_VAR", "fallback"))
}
