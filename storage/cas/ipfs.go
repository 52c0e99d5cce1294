package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// IPFS is a thin shim over the IPFS HTTP API's block/put, block/get,
// block/stat, and pin/{add,rm} endpoints, grounded in the pack's ipfs.Client-over-net/http
// shape (other_examples/macroadster-stargate__ipfs_ingest_sync.go's
// client.Cat pattern) rather than a heavyweight IPFS SDK, which the
// teacher pack never imports either.
//
// hash here is the CIDv0 the object is addressed by, matching spec.md §3's
// global invariant that for item_type=ipfs, item_hash already IS the
// CIDv0 of the content (base58, not hex) — callers never have a raw
// SHA-256 digest to translate.
type IPFS struct {
	apiURL string
	client *http.Client
}

// NewIPFS builds a client against apiURL (e.g. "http://127.0.0.1:5001").
func NewIPFS(apiURL string, timeout time.Duration) *IPFS {
	return &IPFS{apiURL: strings.TrimRight(apiURL, "/"), client: &http.Client{Timeout: timeout}}
}

func (c *IPFS) Name() string { return "ipfs" }

func (c *IPFS) Get(ctx context.Context, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/block/get?arg="+hash, nil)
	if err != nil {
		return nil, fmt.Errorf("cas: build block/get request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cas: ipfs block/get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusInternalServerError {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cas: ipfs block/get failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// Put stores content and returns the CIDv0 the daemon assigned it, so the
// returned hash is immediately usable by Get/Size/Pin without translation.
func (c *IPFS) Put(ctx context.Context, content []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "object")
	if err != nil {
		return "", fmt.Errorf("cas: build block/put form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("cas: write block/put form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("cas: close block/put form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/block/put?format=raw&mhtype=sha2-256", &body)
	if err != nil {
		return "", fmt.Errorf("cas: build block/put request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cas: ipfs block/put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cas: ipfs block/put failed: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	var decoded struct {
		Key string `json:"Key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("cas: decode block/put response: %w", err)
	}
	return decoded.Key, nil
}

func (c *IPFS) Size(ctx context.Context, hash string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/block/stat?arg="+hash, nil)
	if err != nil {
		return 0, fmt.Errorf("cas: build block/stat request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("cas: ipfs block/stat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusInternalServerError {
		return 0, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("cas: ipfs block/stat failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var decoded struct {
		Size uint64 `json:"Size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("cas: decode block/stat response: %w", err)
	}
	return decoded.Size, nil
}

func (c *IPFS) Delete(ctx context.Context, hash string) error {
	return c.Unpin(ctx, hash)
}

// Pin calls pin/add so the daemon's own GC never reclaims the block while
// this node still tracks a non-zero pin_count for it (§4.4 STORE).
func (c *IPFS) Pin(ctx context.Context, hash string) error {
	return c.pinCall(ctx, "add", hash)
}

// Unpin calls pin/rm; the block stays in the daemon's repository until the
// daemon's own garbage collection removes it (this node never calls repo gc).
func (c *IPFS) Unpin(ctx context.Context, hash string) error {
	return c.pinCall(ctx, "rm", hash)
}

func (c *IPFS) pinCall(ctx context.Context, action, hash string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v0/pin/%s?arg=%s", c.apiURL, action, hash), nil)
	if err != nil {
		return fmt.Errorf("cas: build pin/%s request: %w", action, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cas: ipfs pin/%s: %w", action, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cas: ipfs pin/%s failed: %s: %s", action, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
