package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a Google Cloud Storage bucket with public reads.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore authenticates with the service account file when one is given
// and with application default credentials otherwise.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is empty")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (g *GCSStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeOr(contentType, key)
	w.CacheControl = "no-cache"

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload copy: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload close: %w", err)
	}
	return gcsPublicURL(g.bucket, key), nil
}

func (g *GCSStore) Delete(ctx context.Context, publicURL string) error {
	obj, err := ObjectNameFromGCSPublicURL(g.bucket, publicURL)
	if err != nil {
		return err
	}
	if err := g.client.Bucket(g.bucket).Object(obj).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", obj, err)
	}
	return nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func gcsPublicURL(bucket, object string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, object)
}

// ObjectNameFromGCSPublicURL accepts both storage.googleapis.com/<bucket>/<object>
// and <bucket>.storage.googleapis.com/<object>.
func ObjectNameFromGCSPublicURL(bucket, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	host := strings.ToLower(u.Host)
	path := strings.TrimPrefix(u.Path, "/")

	if host == "storage.googleapis.com" {
		prefix := bucket + "/"
		if !strings.HasPrefix(path, prefix) {
			return "", fmt.Errorf("url bucket mismatch")
		}
		return strings.TrimPrefix(path, prefix), nil
	}
	if host == strings.ToLower(bucket)+".storage.googleapis.com" {
		if path == "" {
			return "", fmt.Errorf("missing object path")
		}
		return path, nil
	}
	return "", fmt.Errorf("not a gcs public url")
}
