// Package blob issues time-limited URLs for memory attachments in S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrEmptyKey is returned when asked to sign an empty object key.
var ErrEmptyKey = errors.New("empty object key")

// Signer produces presigned URLs for object keys.
type Signer interface {
	UploadURL(ctx context.Context, key string) (string, error)
	ReadURL(ctx context.Context, key string) (string, error)
}

// PresignAPI is the subset of *s3.PresignClient used by S3Signer.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectKey is the attachment key for a record. Keys are grouped under one
// path segment per owner.
func ObjectKey(ownerID, recordID string) string {
	return ownerSegment(ownerID) + "/" + recordID
}

// OwnsKey reports whether the first path segment of key is the owner's.
func OwnsKey(ownerID, key string) bool {
	if ownerID == "" {
		return false
	}
	segment, rest, ok := strings.Cut(key, "/")
	return ok && segment == ownerSegment(ownerID) && rest != ""
}

// ownerSegment escapes "%" and "/" so that distinct owners never share a
// prefix.
func ownerSegment(ownerID string) string {
	return segmentEscaper.Replace(ownerID)
}

var segmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// NewPresignClient builds a presign client from cfg. A non-empty endpoint
// (LocalStack, MinIO) switches to path-style addressing.
func NewPresignClient(cfg aws.Config, endpoint string) *s3.PresignClient {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewPresignClient(client)
}

// S3Signer presigns GetObject and PutObject requests on one bucket.
type S3Signer struct {
	presign PresignAPI
	bucket  string
	expires time.Duration
}

// NewS3Signer creates a signer for bucket whose URLs expire after expires.
func NewS3Signer(presign PresignAPI, bucket string, expires time.Duration) *S3Signer {
	return &S3Signer{presign: presign, bucket: bucket, expires: expires}
}

// UploadURL returns a presigned PUT URL for key.
func (s *S3Signer) UploadURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %q: %w", key, err)
	}
	return req.URL, nil
}

// ReadURL returns a presigned GET URL for key.
func (s *S3Signer) ReadURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign read for %q: %w", key, err)
	}
	return req.URL, nil
}
