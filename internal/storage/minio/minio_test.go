package minio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallest valid png header mimetype recognises
var pngData = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fakeClient struct {
	objects   map[string][]byte
	types     map[string]string
	putErr    error
	removeErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeClient) PutObject(
	_ context.Context,
	bucketName string,
	objectName string,
	reader io.Reader,
	_ int64,
	opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucketName+"/"+objectName] = data
	f.types[bucketName+"/"+objectName] = opts.ContentType
	return minio.UploadInfo{Bucket: bucketName, Key: objectName}, nil
}

func (f *fakeClient) RemoveObject(_ context.Context, bucketName, objectName string, _ minio.RemoveObjectOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, bucketName+"/"+objectName)
	return nil
}

func TestMinio_Upload(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		putErr   error
		wantKind apperr.Kind
		wantErr  bool
	}{
		{
			name: "good case",
			data: pngData,
		},
		{
			name:     "not an image",
			data:     []byte("just some text"),
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
		{
			name:     "store down",
			data:     pngData,
			putErr:   errors.New("connection refused"),
			wantErr:  true,
			wantKind: apperr.KindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeClient()
			fc.putErr = tt.putErr
			m := New(fc, "chat-images", "http://localhost:9000/")

			url, err := m.Upload(context.Background(), models.Image{Data: tt.data, ContentType: "text/plain"})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				assert.Empty(t, fc.objects)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "http://localhost:9000/chat-images/"))
			assert.True(t, strings.HasSuffix(url, ".png"))
			require.Len(t, fc.objects, 1)
			for key, ct := range fc.types {
				assert.Equal(t, "image/png", ct, key)
			}
		})
	}
}

func TestMinio_Delete(t *testing.T) {
	fc := newFakeClient()
	m := New(fc, "chat-images", "http://localhost:9000")

	url, err := m.Upload(context.Background(), models.Image{Data: pngData})
	require.NoError(t, err)

	err = m.Delete(context.Background(), "http://elsewhere/chat-images/x.png")
	assert.ErrorIs(t, err, ErrForeignURL)
	assert.Len(t, fc.objects, 1)

	fc.removeErr = errors.New("timeout")
	err = m.Delete(context.Background(), url)
	assert.Error(t, err)
	assert.Len(t, fc.objects, 1)

	fc.removeErr = nil
	require.NoError(t, m.Delete(context.Background(), url))
	assert.Empty(t, fc.objects)
}
