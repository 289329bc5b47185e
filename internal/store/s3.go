package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

// S3API is the subset of *s3.Client the store needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// maxObjectBytes caps what Get will read back; a cached list never gets close.
const maxObjectBytes = 32 << 20

// S3 stores each key as an object under prefix, shared across instances.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, xerrors.New("s3 store requires a client")
	}
	if bucket == "" {
		return nil, xerrors.WithKind(xerrors.New("s3 store requires a bucket"), xerrors.KindConfig)
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// objectKey escapes key so list ids with odd characters stay one path segment.
func (s *S3) objectKey(key string) string {
	k := url.PathEscape(key) + ".json"
	if s.prefix != "" {
		return s.prefix + "/" + k
	}
	return k
}

func (s *S3) Get(ctx context.Context, key string, def []byte) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return def, nil
		}
		return def, xerrors.Wrapf(err, "get s3://%s/%s", s.bucket, s.objectKey(key))
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes+1))
	if err != nil {
		return def, xerrors.Wrapf(err, "read s3://%s/%s", s.bucket, s.objectKey(key))
	}
	if len(b) > maxObjectBytes {
		return def, xerrors.Newf("s3 object %s exceeds %d bytes", s.objectKey(key), maxObjectBytes)
	}
	return b, nil
}

func (s *S3) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, s.objectKey(key))
	}
	return nil
}

func (s *S3) Close() error { return nil }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
