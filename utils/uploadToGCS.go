package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

var allowedUploadTypes = map[string]bool{
	"text/csv":   true,
	"image/jpeg": true,
	"image/png":  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// detectContentType sniffs the first bytes and falls back to the extension for csv/xlsx.
func detectContentType(objectName string, head []byte) string {
	mimeType := http.DetectContentType(head)
	switch strings.ToLower(filepath.Ext(objectName)) {
	case ".csv":
		if strings.HasPrefix(mimeType, "text/plain") {
			return "text/csv"
		}
	case ".xlsx":
		if mimeType == "application/zip" {
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
	}
	if i := strings.Index(mimeType, ";"); i > 0 {
		mimeType = mimeType[:i]
	}
	return mimeType
}

type GCSFileStore struct {
	client *storage.Client
	bucket string
}

func NewGCSFileStore(ctx context.Context, bucket string) (*GCSFileStore, error) {
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %v", bucket, err)
	}
	return &GCSFileStore{client: client, bucket: bucket}, nil
}

func (s *GCSFileStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
}

func (s *GCSFileStore) Save(ctx context.Context, path string, r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read file content: %v", err)
	}
	head = head[:n]

	mimeType := detectContentType(path, head)
	if !allowedUploadTypes[mimeType] {
		return "", fmt.Errorf("unsupported file type: %s", mimeType)
	}

	wc := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	wc.ContentType = mimeType
	if _, err := io.Copy(wc, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		wc.Close()
		return "", fmt.Errorf("failed to upload file to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}
	return path, nil
}

func (s *GCSFileStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSFileStore) Close() error {
	return s.client.Close()
}
