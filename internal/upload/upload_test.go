package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalrusUploadNewlyCreated(t *testing.T) {
	var gotQuery, gotMethod, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"newlyCreated":{"blobObject":{"blobId":"blob-123"}}}`))
	}))
	defer srv.Close()

	client := NewWalrusClient(WalrusOptions{
		AggregatorURL: "https://agg.example/",
		PublisherURL:  srv.URL,
		Epochs:        3,
		Deletable:     true,
	})
	receipt, err := client.Upload(context.Background(), "a.jpg", []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/blobs", gotPath)
	assert.Equal(t, "deletable=true&epochs=3", gotQuery)
	assert.Equal(t, "hello", string(gotBody))
	assert.Equal(t, Receipt{Backend: "walrus", ID: "blob-123", URL: "https://agg.example/v1/blobs/blob-123", Size: 5}, receipt)
}

func TestWalrusUploadAlreadyCertified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"alreadyCertified":{"blobId":"known"}}`))
	}))
	defer srv.Close()

	receipt, err := NewWalrusClient(WalrusOptions{PublisherURL: srv.URL}).Upload(context.Background(), "a", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "known", receipt.ID)
	assert.Equal(t, DefaultWalrusAggregator+"/v1/blobs/known", receipt.URL)
}

func TestWalrusUploadFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errText string
	}{
		{"server error", http.StatusInternalServerError, "boom", "500"},
		{"bad json", http.StatusOK, "{", "decode"},
		{"no blob id", http.StatusOK, `{}`, "no blob id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewWalrusClient(WalrusOptions{PublisherURL: srv.URL}).Upload(context.Background(), "a", []byte("x"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestWalrusDefaults(t *testing.T) {
	opts := DefaultWalrusOptions()
	assert.Equal(t, DefaultWalrusAggregator, opts.AggregatorURL)
	assert.Equal(t, DefaultWalrusPublisher, opts.PublisherURL)
	assert.Equal(t, 10, opts.Epochs)

	client := NewWalrusClient(WalrusOptions{})
	assert.Equal(t, DefaultWalrusEpochs, client.options.Epochs)
}

func TestBlobURL(t *testing.T) {
	assert.Equal(t, "https://example.com/v1/blobs/test123", BlobURL("https://example.com/", "test123"))
	assert.Equal(t, "https://example.com/v1/blobs/test123", BlobURL("https://example.com", "test123"))
}

// newIPFSNode fakes the version and add endpoints of a node. add runs for
// every add request.
func newIPFSNode(t *testing.T, add http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Version":"0.23.0"}`))
	})
	mux.HandleFunc("/api/v0/add", add)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestIPFSUpload(t *testing.T) {
	var adds int
	var gotPin string
	srv := newIPFSNode(t, func(w http.ResponseWriter, r *http.Request) {
		adds++
		gotPin = r.URL.Query().Get("pin")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Name":"a.png","Hash":"QmTestHash","Size":"5"}`))
	})

	client := NewIPFSClient(IPFSOptions{APIURL: strings.TrimPrefix(srv.URL, "http://"), Pin: true})
	receipt, err := client.Upload(context.Background(), "a.png", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, adds)
	assert.Equal(t, "true", gotPin)
	assert.Equal(t, "QmTestHash", receipt.ID)
	assert.Equal(t, "ipfs://QmTestHash", receipt.URL)
	assert.Equal(t, "ipfs", receipt.Backend)
}

func TestIPFSUploadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewIPFSClient(IPFSOptions{}).Upload(ctx, "a", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIPFSUploadCancelledInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := newIPFSNode(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := NewIPFSClient(IPFSOptions{APIURL: strings.TrimPrefix(srv.URL, "http://")})
	_, err := client.Upload(ctx, "a.png", []byte("hello"))
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingUploader struct {
	name string
	data []byte
}

func (r *recordingUploader) Name() string { return "recording" }

func (r *recordingUploader) Upload(_ context.Context, name string, data []byte) (Receipt, error) {
	r.name, r.data = name, data
	return Receipt{Backend: "recording", ID: "id", Size: int64(len(data))}, nil
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.webp")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	u := &recordingUploader{}
	receipt, err := UploadFile(context.Background(), u, path, 0)
	require.NoError(t, err)
	assert.Equal(t, "photo.webp", u.name)
	assert.Equal(t, "payload", string(u.data))
	assert.EqualValues(t, 7, receipt.Size)

	_, err = UploadFile(context.Background(), u, path, 3)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = UploadFile(context.Background(), u, filepath.Join(dir, "missing"), 0)
	assert.Error(t, err)

	_, err = UploadFile(context.Background(), u, dir, 0)
	assert.Error(t, err)
}
