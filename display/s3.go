package display

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Sink archives frames to an S3 bucket under {Prefix}/{surface}/{seq}{Ext}.
type S3Sink struct {
	S3     s3iface.S3API
	Bucket string
	Prefix string
	// Ext is the object key suffix, ".jpg" if empty.
	Ext string
	// Every archives only every Nth frame. Zero or one archives all of them.
	Every uint64

	current Current
}

// NewS3Sink builds an S3Sink using the default AWS credential chain.
func NewS3Sink(region, bucket, prefix string) (*S3Sink, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return &S3Sink{
		S3:     s3.New(sess),
		Bucket: bucket,
		Prefix: prefix,
	}, nil
}

// Key returns the object key of a frame.
func (s *S3Sink) Key(f *Frame) string {
	ext := s.Ext
	if ext == "" {
		ext = ".jpg"
	}
	return path.Join(s.Prefix, f.Surface, fmt.Sprintf("%08d%s", f.Seq, ext))
}

func (s *S3Sink) Show(ctx context.Context, f *Frame) error {
	defer s.current.Replace(f)

	if s.Every > 1 && f.Seq%s.Every != 0 {
		return nil
	}
	_, err := s.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(s.Key(f)),
		Body:        bytes.NewReader(f.Data),
		ContentType: aws.String(http.DetectContentType(f.Data)),
	})
	if err != nil {
		return fmt.Errorf("uploading frame %d to s3://%s: %w", f.Seq, s.Bucket, err)
	}
	return nil
}

// Close releases the last frame.
func (s *S3Sink) Close() error {
	s.current.Clear()
	return nil
}
