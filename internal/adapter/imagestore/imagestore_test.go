package imagestore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisk_SaveAndRemove(t *testing.T) {
	d, err := NewDisk(t.TempDir(), slog.Default())
	require.NoError(t, err)

	url, err := d.Save(context.Background(), "CAM-1_123.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/images/CAM-1_123.jpg", url)

	data, err := os.ReadFile(filepath.Join(d.Dir(), "CAM-1_123.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	require.NoError(t, d.Remove(context.Background(), url))
	_, err = os.Stat(filepath.Join(d.Dir(), "CAM-1_123.jpg"))
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine.
	assert.NoError(t, d.Remove(context.Background(), url))
}

func TestDisk_SaveStripsPathComponents(t *testing.T) {
	d, err := NewDisk(t.TempDir(), slog.Default())
	require.NoError(t, err)

	url, err := d.Save(context.Background(), "../../etc/evil.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "/images/evil.jpg", url)
}

func TestCloud_SaveUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "CAM-1.jpg", header.Filename)
		w.Write([]byte(`{"url": "https://img.example/CAM-1.jpg"}`))
	}))
	defer srv.Close()

	c := NewCloud(srv.URL, "secret", time.Second, slog.Default())
	url, err := c.Save(context.Background(), "CAM-1.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/CAM-1.jpg", url)
}

func TestCloud_RemoveTreatsNotFoundAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewCloud(srv.URL, "", time.Second, slog.Default())
	assert.NoError(t, c.Remove(context.Background(), "https://img.example/gone.jpg"))
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("service unavailable")
}
func (failingStore) Remove(context.Context, string) error { return errors.New("service unavailable") }

func TestFallback_DegradesToSecondary(t *testing.T) {
	d, err := NewDisk(t.TempDir(), slog.Default())
	require.NoError(t, err)
	f := NewFallback(failingStore{}, d, slog.Default())

	url, err := f.Save(context.Background(), "CAM-9.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "/images/CAM-9.jpg", url)

	// A local path routes removal to the disk store even with a primary set.
	assert.NoError(t, f.Remove(context.Background(), url))
}

func TestFallback_NilPrimaryGoesStraightToSecondary(t *testing.T) {
	d, err := NewDisk(t.TempDir(), slog.Default())
	require.NoError(t, err)
	f := NewFallback(nil, d, slog.Default())

	url, err := f.Save(context.Background(), "CAM-2.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "/images/CAM-2.jpg", url)
}
