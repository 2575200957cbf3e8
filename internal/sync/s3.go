package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// S3Options configures an S3Destination.
type S3Options struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // non-empty enables path-style addressing (MinIO and similar)
	Compress bool   // zstd-compress the payload and append ".zst" to Key
}

// S3Destination writes JSONL data to an S3-compatible bucket.
type S3Destination struct {
	client   *s3.Client
	bucket   string
	key      string
	compress bool
}

// NewS3Destination creates an S3 destination.
func NewS3Destination(ctx context.Context, o S3Options) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(o.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if o.Endpoint != "" {
		s3opts = append(s3opts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		})
	}

	return &S3Destination{
		client:   s3.NewFromConfig(cfg, s3opts...),
		bucket:   o.Bucket,
		key:      objectKey(o.Key, o.Compress),
		compress: o.Compress,
	}, nil
}

// Name returns the destination's s3:// URL.
func (d *S3Destination) Name() string { return "s3://" + d.bucket + "/" + d.key }

func objectKey(key string, compress bool) string {
	if compress {
		return key + ".zst"
	}
	return key
}

// Write uploads data to S3 as the configured object key.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	contentType := "application/x-ndjson"
	if d.compress {
		var err error
		if data, err = compressZstd(data); err != nil {
			return err
		}
		contentType = "application/zstd"
	}
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// DecompressZstd reverses the compression applied by a compressing
// S3Destination.
func DecompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
