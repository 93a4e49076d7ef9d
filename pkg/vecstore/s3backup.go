package vecstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client abstracts the S3 API operations used by [SaveToS3] and
// [LoadFromS3]. The [s3.Client] type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SaveToS3 serializes h via [HNSW.Save] and uploads the result to the given
// S3 bucket/key. The bytes written are byte-identical to a local Save —
// this is a convenience wrapper around the same on-disk format, not a
// different one.
func SaveToS3(ctx context.Context, client S3Client, bucket, key string, h *HNSW) error {
	pr, pw := io.Pipe()

	saveErr := make(chan error, 1)
	go func() {
		saveErr <- h.Save(pw)
		pw.Close()
	}()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	})
	if err != nil {
		pr.CloseWithError(err)
		<-saveErr
		return fmt.Errorf("vecstore: upload snapshot to s3://%s/%s: %w", bucket, key, err)
	}
	if err := <-saveErr; err != nil {
		return fmt.Errorf("vecstore: serialize snapshot for s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// LoadFromS3 downloads the object at bucket/key and deserializes it via
// [LoadHNSW].
func LoadFromS3(ctx context.Context, client S3Client, bucket, key string) (*HNSW, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("vecstore: download snapshot from s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	h, err := LoadHNSW(out.Body)
	if err != nil {
		return nil, fmt.Errorf("vecstore: deserialize snapshot from s3://%s/%s: %w", bucket, key, err)
	}
	return h, nil
}
