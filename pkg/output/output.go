package output

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog"
)

const (
	Extension   = ".qfx"
	MergedLabel = "AllAccounts"
	gcsScheme   = "gs://"
)

// Writer persists a serialized statement and returns where it ended up.
type Writer interface {
	Write(ctx context.Context, name string, body []byte) (string, error)
	Close() error
}

// FileName is <label>_<YYYY-MM-DD_HHMMSS><microseconds>.qfx.
func FileName(label string, t time.Time) string {
	return fmt.Sprintf("%s_%s%06d%s", label, t.Format("2006-01-02_150405"), t.Nanosecond()/int(time.Microsecond), Extension)
}

// New returns a GCS writer for gs://bucket/prefix destinations and a local
// directory writer otherwise.
func New(ctx context.Context, destination string) (Writer, error) {
	if strings.HasPrefix(destination, gcsScheme) {
		return NewGCSWriter(ctx, destination)
	}
	return NewDirWriter(destination)
}

type DirWriter struct {
	dir string
}

func NewDirWriter(dir string) (*DirWriter, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("output directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output location %s is not a directory", dir)
	}

	return &DirWriter{dir: dir}, nil
}

func (w *DirWriter) Write(_ context.Context, name string, body []byte) (string, error) {
	fullPath := filepath.Join(w.dir, name)
	if err := os.WriteFile(fullPath, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", fullPath, err)
	}
	return fullPath, nil
}

func (w *DirWriter) Close() error {
	return nil
}

// GCSWriter uploads statements to a bucket using application default
// credentials.
type GCSWriter struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSWriter(ctx context.Context, uri string) (*GCSWriter, error) {
	bucket, prefix, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCSWriter{client: client, bucket: bucket, prefix: prefix}, nil
}

func (w *GCSWriter) Write(ctx context.Context, name string, body []byte) (string, error) {
	objectName := path.Join(w.prefix, name)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := w.client.Bucket(w.bucket).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/vnd.intu.qfx"

	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("write %s to GCS: %w", objectName, err)
	}

	// Close finalizes the upload
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload of %s: %w", objectName, err)
	}

	uri := gcsScheme + w.bucket + "/" + objectName
	klog.V(2).Infof("Uploaded %d bytes to %s\n", len(body), uri)
	return uri, nil
}

func (w *GCSWriter) Close() error {
	return w.client.Close()
}

func parseGCSURI(uri string) (string, string, error) {
	trimmed := strings.TrimPrefix(uri, gcsScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], strings.Trim(parts[1], "/"), nil
}
