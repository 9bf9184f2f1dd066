package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

var (
	ErrNotAnImage = apperr.Validation("attachment is not an image")
	ErrForeignURL = apperr.Validation("image url does not belong to the bucket")
)

type Client interface {
	PutObject(
		ctx context.Context,
		bucketName string,
		objectName string,
		reader io.Reader,
		objectSize int64,
		opts minio.PutObjectOptions,
	) (info minio.UploadInfo, err error)
	RemoveObject(
		ctx context.Context,
		bucketName string,
		objectName string,
		opts minio.RemoveObjectOptions,
	) error
}

type Minio struct {
	mc         Client
	bucketName string
	baseURL    string
}

// New returns the image store. baseURL is the public address of the object
// store, links are built as baseURL/bucket/object.
func New(mc Client, bucketName string, baseURL string) *Minio {
	return &Minio{
		mc:         mc,
		bucketName: bucketName,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Upload stores image under a fresh name and returns its public url.
// The content type is sniffed from the bytes; the declared one is ignored.
func (m *Minio) Upload(ctx context.Context, image models.Image) (string, error) {
	const op = "storage.minio.Upload"

	mime := mimetype.Detect(image.Data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("%s: %w", op, ErrNotAnImage)
	}

	objectName := uuid.NewString() + mime.Extension()

	_, err := m.mc.PutObject(
		ctx,
		m.bucketName,
		objectName,
		bytes.NewReader(image.Data),
		int64(len(image.Data)),
		minio.PutObjectOptions{ContentType: mime.String()},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return m.objectURL(objectName), nil
}

func (m *Minio) Delete(ctx context.Context, url string) error {
	const op = "storage.minio.Delete"

	objectName, ok := m.objectName(url)
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrForeignURL)
	}

	err := m.mc.RemoveObject(ctx, m.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Minio) objectURL(objectName string) string {
	return m.baseURL + "/" + m.bucketName + "/" + objectName
}

func (m *Minio) objectName(url string) (string, bool) {
	prefix := m.baseURL + "/" + m.bucketName + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(url, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
