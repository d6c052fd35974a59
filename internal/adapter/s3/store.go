package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Content-MD5 is an integrity check required by the S3 API, not a security boundary.
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
)

const contentTypeCSV = "text/csv"

// putAPI is the subset of the S3 client used by Store.
type putAPI interface {
	PutObjectWithContext(ctx aws.Context, input *awss3.PutObjectInput, opts ...request.Option) (*awss3.PutObjectOutput, error)
}

// Store writes staging files to a single S3 bucket.
// It implements pipeline.ObjectStore.
type Store struct {
	client putAPI
	bucket string
	logger *slog.Logger
}

// Options configures the S3 session. Endpoint is set for S3-compatible stores
// such as MinIO or LocalStack and switches to path-style addressing.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
}

// NewStore creates an S3-backed object store using the default AWS credential chain.
func NewStore(opts Options, logger *slog.Logger) (*Store, error) {
	awsCfg := &aws.Config{Region: aws.String(opts.Region)}
	if opts.Endpoint != "" {
		awsCfg.Endpoint = aws.String(opts.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &Store{client: awss3.New(sess), bucket: opts.Bucket, logger: logger}, nil
}

// Put replaces the object at path with data. S3 PUT is atomic per object, so
// readers observe either the previous object or the complete new one. The
// Content-MD5 header makes S3 reject a body that arrives truncated.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	sum := md5.Sum(data) //nolint:gosec // see import
	out, err := s.client.PutObjectWithContext(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypeCSV),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, path, err)
	}
	s.logger.Debug("object stored", "bucket", s.bucket, "key", path, "bytes", len(data), "etag", aws.StringValue(out.ETag))
	return nil
}

// URI returns the storage-native reference for path.
func (s *Store) URI(path string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, path)
}
