package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Walrus network defaults.
const (
	DefaultWalrusAggregator = "https://aggregator.walrus-testnet.walrus.space"
	DefaultWalrusPublisher  = "https://publisher.walrus-testnet.walrus.space"
	DefaultWalrusEpochs     = 10
	TempWalrusEpochs        = 1

	walrusBlobPath = "/v1/blobs"
)

// WalrusOptions configures a Walrus client.
type WalrusOptions struct {
	AggregatorURL string
	PublisherURL  string
	Epochs        int
	Deletable     bool
	Timeout       time.Duration
}

// DefaultWalrusOptions returns testnet endpoints with the default storage duration.
func DefaultWalrusOptions() WalrusOptions {
	return WalrusOptions{
		AggregatorURL: DefaultWalrusAggregator,
		PublisherURL:  DefaultWalrusPublisher,
		Epochs:        DefaultWalrusEpochs,
		Deletable:     true,
		Timeout:       5 * time.Minute,
	}
}

// WalrusClient uploads blobs through a Walrus publisher.
type WalrusClient struct {
	options WalrusOptions
	client  *http.Client
}

// NewWalrusClient creates a Walrus client.
func NewWalrusClient(options WalrusOptions) *WalrusClient {
	if options.AggregatorURL == "" {
		options.AggregatorURL = DefaultWalrusAggregator
	}
	if options.PublisherURL == "" {
		options.PublisherURL = DefaultWalrusPublisher
	}
	if options.Epochs <= 0 {
		options.Epochs = DefaultWalrusEpochs
	}
	return &WalrusClient{
		options: options,
		client:  &http.Client{Timeout: options.Timeout},
	}
}

// Name returns the backend name.
func (w *WalrusClient) Name() string {
	return "walrus"
}

type walrusStoreResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

// Upload stores data as a new blob.
func (w *WalrusClient) Upload(ctx context.Context, name string, data []byte) (Receipt, error) {
	endpoint, err := url.Parse(strings.TrimRight(w.options.PublisherURL, "/") + walrusBlobPath)
	if err != nil {
		return Receipt{}, fmt.Errorf("invalid publisher URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("epochs", strconv.Itoa(w.options.Epochs))
	if w.options.Deletable {
		q.Set("deletable", "true")
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := w.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to store blob %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to read publisher response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("publisher returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out walrusStoreResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Receipt{}, fmt.Errorf("failed to decode publisher response: %w", err)
	}

	var blobID string
	switch {
	case out.NewlyCreated != nil:
		blobID = out.NewlyCreated.BlobObject.BlobID
	case out.AlreadyCertified != nil:
		blobID = out.AlreadyCertified.BlobID
	}
	if blobID == "" {
		return Receipt{}, fmt.Errorf("publisher response contained no blob id")
	}

	return Receipt{
		Backend: w.Name(),
		ID:      blobID,
		URL:     BlobURL(w.options.AggregatorURL, blobID),
		Size:    int64(len(data)),
	}, nil
}

// BlobURL builds the aggregator URL a blob can be read from.
func BlobURL(aggregatorURL, blobID string) string {
	return strings.TrimRight(aggregatorURL, "/") + walrusBlobPath + "/" + blobID
}
