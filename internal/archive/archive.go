// Package archive stores a JSON copy of every submitted report in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zulandar/roadcall/internal/submit"
)

// Putter is the part of the S3 client the archive uses.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint points the client at an S3-compatible service (MinIO,
// LocalStack) using path-style addressing.
func NewClient(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Archive writes reports to a bucket. It implements submit.Recorder.
type Archive struct {
	client Putter
	bucket string
	prefix string
}

// New creates an Archive. prefix defaults to "reports".
func New(client Putter, bucket, prefix string) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("archive: s3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if prefix == "" {
		prefix = "reports"
	}
	return &Archive{client: client, bucket: bucket, prefix: prefix}, nil
}

// Name implements submit.Recorder.
func (a *Archive) Name() string { return "archive" }

// Key returns the object key for r: <prefix>/YYYY/MM/DD/<id>.json, dated by
// submission time in UTC.
func (a *Archive) Key(r submit.Report) string {
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, r.SubmittedAt.UTC().Format("2006/01/02"), r.ID)
}

// Record implements submit.Recorder. Rewriting the same report overwrites
// the same key.
func (a *Archive) Record(ctx context.Context, r submit.Report) error {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", r.ID, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(r)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"report-id": r.ID,
			"user-id":   r.UserID,
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", r.ID, err)
	}
	return nil
}
