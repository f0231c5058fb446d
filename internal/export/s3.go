package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// objectPutter is the subset of *s3.Client the sink needs
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes every snapshot as its own object:
// s3://{bucket}/{prefix}/YYYY/MM/DD/HHMMSS.json
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Sink(client objectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Sink) Name() string { return "s3" }

// objectKey returns the key for a snapshot taken at t (UTC)
func (s *S3Sink) objectKey(t time.Time) string {
	name := t.UTC().Format("2006/01/02/150405") + ".json"
	if s.prefix != "" {
		return fmt.Sprintf("%s/%s", s.prefix, name)
	}
	return name
}

func (s *S3Sink) Write(ctx context.Context, at time.Time, payload []byte) error {
	key := s.objectKey(at)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return nil
}
