// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package sigstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/mschwaig/laut/errs"
)

// S3Store is an S3-compatible signature cache. Cache URLs take the form
//
//	s3://bucket?endpoint=https://minio.example&region=eu-central-1
//
// matching the URL shape Nix-style binary caches use. Credentials come
// from the default AWS credential chain; unauthenticated reads work
// against public buckets.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store parses cacheURL and builds the S3 client.
func NewS3Store(ctx context.Context, cacheURL string) (*S3Store, error) {
	u, err := url.Parse(cacheURL)
	if err != nil {
		return nil, fmt.Errorf("s3 signature store %q: %w", cacheURL, err)
	}
	bucket := u.Host
	if bucket == "" {
		bucket = strings.Trim(u.Path, "/")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 signature store %q: no bucket in URL", cacheURL)
	}
	query := u.Query()

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := query.Get("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 signature store %q: %w", cacheURL, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := query.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: bucket}, nil
}

// get fetches the blob and its ETag. A missing key yields a nil blob.
func (s *S3Store) get(ctx context.Context, resolvedInputHash string) (*Blob, string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(resolvedInputHash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("s3 signature store: %w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("s3 signature store: %w: %w", errs.ErrTransport, err)
	}
	blob, err := parseBlob(data)
	if err != nil {
		return nil, "", fmt.Errorf("s3 signature store %s: %w", resolvedInputHash, err)
	}
	return blob, aws.ToString(resp.ETag), nil
}

func (s *S3Store) Fetch(ctx context.Context, resolvedInputHash string) ([]string, error) {
	blob, _, err := s.get(ctx, resolvedInputHash)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return blob.Signatures, nil
}

// Upload implements the same optimistic read-modify-write as
// [HTTPStore.Upload], using S3 conditional writes (If-Match on an
// existing object, If-None-Match for creation).
func (s *S3Store) Upload(ctx context.Context, resolvedInputHash, signature string) error {
	for attempt := 0; attempt < maxUploadAttempts; attempt++ {
		blob, etag, err := s.get(ctx, resolvedInputHash)
		if err != nil {
			return err
		}
		updated, ok, err := appendSignature(blob, signature)
		if err != nil {
			return fmt.Errorf("s3 signature store %s: %w", resolvedInputHash, err)
		}
		if !ok {
			return nil
		}

		put := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(objectKey(resolvedInputHash)),
			Body:        bytes.NewReader(updated),
			ContentType: aws.String(blobContentType),
		}
		if etag != "" {
			put.IfMatch = aws.String(etag)
		} else {
			put.IfNoneMatch = aws.String("*")
		}
		if _, err := s.client.PutObject(ctx, put); err != nil {
			if isPreconditionFailed(err) {
				continue
			}
			return fmt.Errorf("s3 signature store: %w: %w", errs.ErrTransport, err)
		}
		return nil
	}
	return fmt.Errorf("upload signature for %s: %w after %d attempts", resolvedInputHash, errs.ErrUploadConflict, maxUploadAttempts)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
