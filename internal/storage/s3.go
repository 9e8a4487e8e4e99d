package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	apperrors "nsmgr/internal/errors"
)

// s3Handle reads and writes a single object.
type s3Handle struct {
	client *s3.Client
	loc    Location
	logger *zap.Logger
}

func (r *Resolver) s3Client() (*s3.Client, error) {
	accessKey := strings.TrimSpace(r.s3.AccessKey)
	secretKey := strings.TrimSpace(r.s3.SecretKey)
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("missing S3 credentials (set NSMGR_S3_ACCESS_KEY and NSMGR_S3_SECRET_KEY)")
	}
	region := strings.TrimSpace(r.s3.Region)
	if region == "" {
		region = "auto"
	}

	cfg := aws.Config{
		Region: region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	}
	endpoint := strings.TrimSpace(r.s3.Endpoint)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = r.s3.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}), nil
}

func (r *Resolver) openS3(ctx context.Context, loc Location, mode Mode) (Handle, error) {
	client, err := r.s3Client()
	if err != nil {
		return nil, apperrors.NewStorageError("open", loc.Display, "s3 is not configured", err)
	}
	h := &s3Handle{client: client, loc: loc, logger: r.logger}

	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	switch {
	case err == nil:
	case isNotFound(err) && mode == ModeCreate:
	case isNotFound(err):
		return nil, apperrors.NewFileIOError("open", loc.Display, "container object does not exist", err)
	default:
		return nil, apperrors.NewStorageError("open", loc.Display, "s3 request failed", err)
	}
	return h, nil
}

func (h *s3Handle) Location() Location { return h.loc }

func (h *s3Handle) ReadAll(ctx context.Context) ([]byte, error) {
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.loc.Bucket),
		Key:    aws.String(h.loc.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewFileIOError("read", h.loc.Display, "container object does not exist", err)
		}
		return nil, apperrors.NewStorageError("read", h.loc.Display, "s3 request failed", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.NewStorageError("read", h.loc.Display, "s3 read failed", err)
	}
	return data, nil
}

func (h *s3Handle) Replace(ctx context.Context, data []byte) error {
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.loc.Bucket),
		Key:         aws.String(h.loc.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return apperrors.NewStorageError("write", h.loc.Display, "s3 request failed", err)
	}
	h.logger.Debug("s3 object written", zap.String("location", h.loc.Display), zap.Int("bytes", len(data)))
	return nil
}

func (h *s3Handle) Close() error { return nil }

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.TrimSpace(apiErr.ErrorCode())
		return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket"
	}
	return false
}
