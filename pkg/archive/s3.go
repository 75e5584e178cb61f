package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/nam-edi/playwright-analyst/pkg/config"
)

// s3Writer stores report documents in S3-compatible object storage.
type s3Writer struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

var _ Writer = (*s3Writer)(nil)

func newS3Writer(
	log logrus.FieldLogger,
	cfg *config.S3ArchiveConfig,
) (Writer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive bucket not configured")
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	client := s3.New(s3.Options{}, opts...)

	return &s3Writer{
		log:    log.WithField("component", "s3-archive"),
		cfg:    cfg,
		client: client,
	}, nil
}

// Preflight verifies S3 connectivity by writing a small test object.
func (w *s3Writer) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("pwanalyst write test: %s", time.Now().UTC().Format(time.RFC3339))
	body := strings.NewReader(content)

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(w.resolveKey(".pwanalyst-write-test")),
		Body:        body,
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", w.cfg.Bucket, err)
	}

	return nil
}

func (w *s3Writer) Write(
	ctx context.Context, projectID, executionID uint, data []byte,
) error {
	key := w.resolveKey(objectKey(projectID, executionID))

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", w.cfg.Bucket, key, err)
	}

	w.log.WithFields(logrus.Fields{
		"bucket": w.cfg.Bucket,
		"key":    key,
		"bytes":  len(data),
	}).Debug("Report archived")

	return nil
}

// resolveKey prepends the configured prefix, trimming stray slashes.
func (w *s3Writer) resolveKey(key string) string {
	prefix := strings.Trim(w.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}
