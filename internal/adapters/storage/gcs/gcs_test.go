package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := storage.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return NewClient(svc, "scripts", "workers")
}

func TestStatObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/b/scripts/o/workers/script.sh"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"name":"workers/script.sh","size":"42","updated":"2026-01-02T03:04:05Z"}`)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"No such object"}}`)
		}
	})

	info, err := c.StatObject(context.Background(), "script.sh")
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.Size)
	assert.Equal(t, 2026, info.UpdatedAt.Year())

	_, err = c.StatObject(context.Background(), "missing.sh")
	assert.True(t, errors.IsNotFound(err))
}

func TestPutObject(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/b/scripts/o") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"workers/script.sh","size":"7"}`)
	})

	out, err := c.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey:   "script.sh",
		ContentType: "text/x-shellscript",
		Reader:      strings.NewReader("echo hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.Size)
	assert.Equal(t, "gs://scripts/workers/script.sh", out.Location)
	assert.Contains(t, gotBody, "echo hi")
}
