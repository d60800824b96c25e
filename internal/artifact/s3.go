package artifact

import (
	"context"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intent-cli/internal/resilience"
)

// S3Options configures the object-store mirror.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Mirror uploads run files to an S3-compatible bucket.
type S3Mirror struct {
	client *minio.Client
	bucket string
	region string
	retry  resilience.RetryConfig

	initOnce sync.Once
	initErr  error
}

// NewS3Mirror creates a mirror. The bucket is created on first upload when
// missing.
func NewS3Mirror(opts S3Options) (*S3Mirror, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, eris.New("artifact: s3 endpoint is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, eris.New("artifact: s3 bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "artifact: init s3 client")
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.OnRetry = resilience.RetryLogger("artifact", "s3 upload")

	return &S3Mirror{client: client, bucket: bucket, region: region, retry: retry}, nil
}

func (m *S3Mirror) ensureBucket(ctx context.Context) error {
	m.initOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.bucket)
		if err != nil {
			m.initErr = eris.Wrap(err, "artifact: check bucket")
			return
		}
		if exists {
			return
		}
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			m.initErr = eris.Wrap(err, "artifact: make bucket")
		}
	})
	return m.initErr
}

// Upload implements Mirror. Transient failures are retried.
func (m *S3Mirror) Upload(ctx context.Context, key, path string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		_, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			resp := minio.ToErrorResponse(err)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(eris.Wrapf(err, "artifact: put %s", key), resp.StatusCode)
			}
			return eris.Wrapf(err, "artifact: put %s", key)
		}
		return nil
	})
}
