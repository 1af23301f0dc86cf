package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/selfdb-io/selfdb/internal/config"
	"github.com/selfdb-io/selfdb/internal/httpx"
)

// Client is the shared HTTP client to the blob worker. It is constructed
// lazily on first use and closed on shutdown; upload and download bodies are
// streamed, never buffered.
type Client struct {
	cfg  config.Storage
	log  zerolog.Logger
	once sync.Once
	http *http.Client
}

func NewClient(cfg config.Storage, log zerolog.Logger) *Client {
	return &Client{cfg: cfg, log: log.With().Str("component", "storage").Logger()}
}

func (c *Client) client() *http.Client {
	c.once.Do(func() {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   c.cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxConnsPerHost:       c.cfg.MaxConnections,
			MaxIdleConnsPerHost:   c.cfg.MaxKeepalive,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: c.cfg.ReadTimeout,
		}
		// No overall client timeout: read/write budgets apply per chunk and a
		// multi-gigabyte stream legitimately outlives any fixed deadline.
		c.http = &http.Client{Transport: transport}
	})
	return c.http
}

// Close tears the idle connections down.
func (c *Client) Close() {
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, httpx.Unavailable("Storage service unavailable: " + err.Error())
	}
	return resp, nil
}

func drainError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	var envelope struct {
		Detail string `json:"detail"`
	}
	detail := string(body)
	if json.Unmarshal(body, &envelope) == nil && envelope.Detail != "" {
		detail = envelope.Detail
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return httpx.NotFound("File")
	case http.StatusUnprocessableEntity:
		return httpx.Validation(detail)
	case http.StatusBadRequest:
		return httpx.BadRequest(detail)
	default:
		return httpx.Unavailable(fmt.Sprintf("Storage worker error (%d): %s", resp.StatusCode, detail))
	}
}

// UploadResult is the worker's response to a stored blob.
type UploadResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// UploadStream forwards a request body to the worker chunk by chunk. The
// caller passes the client's body reader straight through; contentLength may
// be -1 when unknown.
func (c *Client) UploadStream(ctx context.Context, bucket, filePath, filename, contentType string, contentLength int64, body io.Reader) (*UploadResult, error) {
	u := c.cfg.BaseURL() + "/files/upload?bucket=" + url.QueryEscape(bucket) + "&path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Filename", filename)
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, drainError(resp)
	}
	defer resp.Body.Close()
	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, httpx.Unavailable("Storage worker returned an unreadable response: " + err.Error())
	}
	return &out, nil
}

// Download opens the worker's response for a blob; the caller streams
// resp.Body to the client and closes it.
func (c *Client) Download(ctx context.Context, bucket, filePath string) (*http.Response, error) {
	u := c.cfg.BaseURL() + "/files/" + url.PathEscape(bucket) + "/" + escapePath(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, drainError(resp)
	}
	return resp, nil
}

// DeleteFile removes a blob at the worker. A 404 there is success: the blob
// is already gone.
func (c *Client) DeleteFile(ctx context.Context, bucket, filePath string) error {
	u := c.cfg.BaseURL() + "/files/" + url.PathEscape(bucket) + "/" + escapePath(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return httpx.Unavailable("Storage worker error deleting file: " + strconv.Itoa(resp.StatusCode))
}

// CreateBucketDir provisions the bucket directory at the worker; creating an
// existing directory is a no-op there.
func (c *Client) CreateBucketDir(ctx context.Context, bucket string) error {
	u := c.cfg.BaseURL() + "/buckets/" + url.PathEscape(bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		return nil
	}
	return httpx.Unavailable("Storage worker error creating bucket: " + strconv.Itoa(resp.StatusCode))
}

// DeleteBucketDir drops the bucket directory; a missing directory is success.
func (c *Client) DeleteBucketDir(ctx context.Context, bucket string) error {
	u := c.cfg.BaseURL() + "/buckets/" + url.PathEscape(bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return httpx.Unavailable("Storage worker error deleting bucket: " + strconv.Itoa(resp.StatusCode))
}

// Health probes the worker.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL()+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.New("storage worker unhealthy")
	}
	return nil
}

// escapePath escapes each segment of a slash-separated blob path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
