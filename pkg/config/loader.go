package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

// Loader loads run Options from some backing store.
type Loader interface {
	Load(ctx context.Context) (*Options, error)
	String() string
}

// S3API is the narrow interface a Loader needs from the S3 client.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SSMAPI is the narrow interface a Loader needs from the SSM client.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManagerAPI is the narrow interface a Loader needs from the
// Secrets Manager client.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func parseAndValidate(raw []byte) (*Options, error) {
	var o Options
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

// S3Loader loads run configuration from an S3 object.
type S3Loader struct {
	bucket, key string
	client      S3API
}

func NewS3Loader(bucket, key string, client S3API) *S3Loader {
	return &S3Loader{bucket: bucket, key: key, client: client}
}

func (l *S3Loader) Load(ctx context.Context) (*Options, error) {
	log.Ctx(ctx).Debug().Str("bucket", l.bucket).Str("key", l.key).Msg("loading run configuration from S3")

	resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(l.key)})
	if err != nil {
		return nil, fmt.Errorf("config: fetching s3 object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("config: reading s3 object: %w", err)
	}
	return parseAndValidate(data)
}

func (l *S3Loader) String() string { return fmt.Sprintf("S3Loader(bucket=%s, key=%s)", l.bucket, l.key) }

// SSMLoader loads run configuration from an SSM parameter.
type SSMLoader struct {
	parameterName string
	client        SSMAPI
}

func NewSSMLoader(parameterName string, client SSMAPI) *SSMLoader {
	return &SSMLoader{parameterName: parameterName, client: client}
}

func (l *SSMLoader) Load(ctx context.Context) (*Options, error) {
	log.Ctx(ctx).Debug().Str("parameter", l.parameterName).Msg("loading run configuration from SSM")

	resp, err := l.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(l.parameterName), WithDecryption: aws.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("config: fetching ssm parameter: %w", err)
	}
	if resp.Parameter == nil || resp.Parameter.Value == nil {
		return nil, fmt.Errorf("config: ssm parameter value is nil")
	}
	return parseAndValidate([]byte(*resp.Parameter.Value))
}

func (l *SSMLoader) String() string { return fmt.Sprintf("SSMLoader(parameter=%s)", l.parameterName) }

// SecretsManagerLoader loads run configuration from a Secrets Manager
// secret.
type SecretsManagerLoader struct {
	secretID string
	client   SecretsManagerAPI
}

func NewSecretsManagerLoader(secretID string, client SecretsManagerAPI) *SecretsManagerLoader {
	return &SecretsManagerLoader{secretID: secretID, client: client}
}

func (l *SecretsManagerLoader) Load(ctx context.Context) (*Options, error) {
	log.Ctx(ctx).Debug().Str("secretId", l.secretID).Msg("loading run configuration from Secrets Manager")

	resp, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(l.secretID)})
	if err != nil {
		return nil, fmt.Errorf("config: fetching secret: %w", err)
	}
	if resp.SecretString == nil {
		return nil, fmt.Errorf("config: secret string is nil")
	}
	return parseAndValidate([]byte(*resp.SecretString))
}

func (l *SecretsManagerLoader) String() string {
	return fmt.Sprintf("SecretsManagerLoader(secretId=%s)", l.secretID)
}

// LocalLoader loads run configuration from a local YAML file.
type LocalLoader struct{ path string }

func NewLocalLoader(path string) *LocalLoader { return &LocalLoader{path: path} }

func (l *LocalLoader) Load(ctx context.Context) (*Options, error) {
	log.Ctx(ctx).Debug().Str("path", l.path).Msg("loading run configuration from local file")

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: reading file: %w", err)
	}
	return parseAndValidate(data)
}

func (l *LocalLoader) String() string { return fmt.Sprintf("LocalLoader(path=%s)", l.path) }

// CachedLoader wraps another Loader with a TTL cache, guarded by a
// double-checked RWMutex.
type CachedLoader struct {
	inner Loader
	ttl   time.Duration

	mu         sync.RWMutex
	lastLoaded time.Time
	cached     *Options
}

func NewCachedLoader(inner Loader, ttl time.Duration) *CachedLoader {
	return &CachedLoader{inner: inner, ttl: ttl}
}

func (l *CachedLoader) Load(ctx context.Context) (*Options, error) {
	l.mu.RLock()
	if l.cached != nil && time.Since(l.lastLoaded) < l.ttl {
		cached := l.cached
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil && time.Since(l.lastLoaded) < l.ttl {
		return l.cached, nil
	}

	opts, err := l.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	l.cached = opts
	l.lastLoaded = time.Now()
	return opts, nil
}

func (l *CachedLoader) String() string {
	return fmt.Sprintf("CachedLoader(inner=%s, ttl=%s)", l.inner.String(), l.ttl)
}

// FromEnv constructs a Loader from the CONFIG_SOURCE environment variable,
// mirroring the teacher's CreateLoaderFromEnv factory.
func FromEnv(awsCfg *aws.Config) Loader {
	source := strings.ToLower(getEnv("CONFIG_SOURCE", "local"))

	var base Loader
	switch source {
	case "s3":
		bucket := getEnv("CONFIG_S3_BUCKET", "")
		key := getEnv("CONFIG_S3_KEY", "")
		if bucket != "" && key != "" {
			base = NewS3Loader(bucket, key, s3.NewFromConfig(*awsCfg))
		}
	case "ssm":
		if param := getEnv("CONFIG_SSM_PARAMETER", ""); param != "" {
			base = NewSSMLoader(param, ssm.NewFromConfig(*awsCfg))
		}
	case "secretsmanager":
		if secretID := getEnv("CONFIG_SECRET_ID", ""); secretID != "" {
			base = NewSecretsManagerLoader(secretID, secretsmanager.NewFromConfig(*awsCfg))
		}
	}
	if base == nil {
		base = NewLocalLoader(getEnv("CONFIG_FILE", "./ingest.yaml"))
	}

	if getEnv("CONFIG_CACHE_ENABLED", "true") == "true" {
		ttl, err := time.ParseDuration(getEnv("CONFIG_REFRESH_INTERVAL", "5m"))
		if err != nil {
			ttl = 5 * time.Minute
		}
		return NewCachedLoader(base, ttl)
	}
	return base
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
