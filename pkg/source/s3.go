package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
)

// MaxObjectSize bounds the documents S3Loader will read.
const MaxObjectSize = 16 << 20

// S3API is the subset of *s3.Client used by S3Loader.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Loader loads documents from s3://bucket/key URLs.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	loader := source.NewS3Loader(s3.NewFromConfig(cfg), "")
type S3Loader struct {
	client S3API
	// bucket is used for URLs without a host.
	bucket string
}

// NewS3Loader creates a loader. defaultBucket may be empty.
func NewS3Loader(client S3API, defaultBucket string) *S3Loader {
	return &S3Loader{client: client, bucket: defaultBucket}
}

// Object returns the bucket and key addressed by opts.
func (l *S3Loader) Object(opts protocol.OpenOptions) (bucket, key string, err error) {
	u, err := parseURL(opts)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
	}
	bucket = u.Host
	if bucket == "" {
		bucket = l.bucket
	}
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("source: incomplete s3 url %q", opts.URL)
	}
	return bucket, key, nil
}

// Load fetches and parses the object.
func (l *S3Loader) Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error) {
	bucket, key, err := l.Object(opts)
	if err != nil {
		return nil, err
	}
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("source: s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("source: s3 read %s/%s: %w", bucket, key, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("source: s3 object %s/%s exceeds %d bytes", bucket, key, MaxObjectSize)
	}
	return markup.Parse(string(data))
}

// WriteBack uploads the rendering of root.
func (l *S3Loader) WriteBack(ctx context.Context, opts protocol.OpenOptions, root *markup.Node) error {
	bucket, key, err := l.Object(opts)
	if err != nil {
		return err
	}
	_, err = l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(render(root))),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("source: s3 put %s/%s: %w", bucket, key, err)
	}
	return nil
}
