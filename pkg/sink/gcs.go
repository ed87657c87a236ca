package sink

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig locates the bucket.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

// GCSUploader uploads files to a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSUploader uses CredentialsFile when set and application default
// credentials otherwise.
func NewGCSUploader(ctx context.Context, cfg GCSConfig) (*GCSUploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSUploader{client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

// Upload streams localPath to gs://bucket/key.
func (u *GCSUploader) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := u.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close releases the client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
