package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type R2Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint is https://<account-id>.r2.cloudflarestorage.com
	Endpoint string
	// PublicDomain is the custom domain or r2.dev URL objects are served from.
	PublicDomain string
}

// objectAPI is the part of the S3 client R2Store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2Store keeps objects in Cloudflare R2 through its S3 API.
type R2Store struct {
	s3     objectAPI
	bucket string
	domain string
}

func NewR2Store(ctx context.Context, cfg R2Config) (*R2Store, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("missing R2 settings (bucket, access key, secret key, endpoint)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("r2 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true // required for R2
	})
	return newR2Store(client, cfg.Bucket, cfg.PublicDomain), nil
}

func newR2Store(api objectAPI, bucket, domain string) *R2Store {
	return &R2Store{s3: api, bucket: bucket, domain: strings.TrimRight(domain, "/")}
}

func (r *R2Store) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	// buffered so the SDK can sign a seekable payload
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	_, err = r.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypeOr(contentType, key)),
		CacheControl:  aws.String("no-cache"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return r.publicURL(key), nil
}

func (r *R2Store) Delete(ctx context.Context, publicURL string) error {
	key, err := r.ObjectName(publicURL)
	if err != nil {
		return err
	}
	_, err = r.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (r *R2Store) publicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", r.domain, r.bucket, key)
}

// ObjectName recovers the object key from a URL built by publicURL or from an
// r2.dev style https://<bucket>.<account>.r2.dev/<key> URL.
func (r *R2Store) ObjectName(raw string) (string, error) {
	if r.domain != "" {
		prefix := r.domain + "/" + r.bucket + "/"
		if strings.HasPrefix(raw, prefix) {
			return strings.TrimPrefix(raw, prefix), nil
		}
	}
	for _, scheme := range []string{"https://", "http://"} {
		if !strings.HasPrefix(raw, scheme) {
			continue
		}
		rest := strings.TrimPrefix(raw, scheme)
		slash := strings.Index(rest, "/")
		if slash == -1 || slash == len(rest)-1 {
			return "", fmt.Errorf("no object path in url")
		}
		return rest[slash+1:], nil
	}
	return "", fmt.Errorf("not a recognised R2 public url")
}
