package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// DefaultIPFSAPI is the default IPFS HTTP API endpoint.
const DefaultIPFSAPI = "localhost:5001"

// IPFSOptions configures an IPFS client.
type IPFSOptions struct {
	APIURL  string
	Pin     bool
	Timeout time.Duration
}

// IPFSClient adds blobs to an IPFS node.
type IPFSClient struct {
	shell *shell.Shell
	pin   bool
}

// NewIPFSClient creates a client for the node at options.APIURL.
func NewIPFSClient(options IPFSOptions) *IPFSClient {
	apiURL := options.APIURL
	if apiURL == "" {
		apiURL = DefaultIPFSAPI
	}
	sh := shell.NewShellWithClient(apiURL, &http.Client{Timeout: options.Timeout})
	return &IPFSClient{shell: sh, pin: options.Pin}
}

// Name returns the backend name.
func (c *IPFSClient) Name() string {
	return "ipfs"
}

type addResult struct {
	cid string
	err error
}

// Upload adds data to IPFS and returns its CID. The shell API takes no
// context, so a cancelled ctx makes Upload return at once while the
// abandoned request runs until the client timeout.
func (c *IPFSClient) Upload(ctx context.Context, name string, data []byte) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	done := make(chan addResult, 1)
	go func() {
		cid, err := c.shell.Add(bytes.NewReader(data), shell.Pin(c.pin))
		done <- addResult{cid: cid, err: err}
	}()

	var cid string
	select {
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("failed to add %s: %w", name, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return Receipt{}, fmt.Errorf("failed to add %s: %w", name, res.err)
		}
		cid = res.cid
	}

	return Receipt{
		Backend: c.Name(),
		ID:      cid,
		URL:     "ipfs://" + cid,
		Size:    int64(len(data)),
	}, nil
}
