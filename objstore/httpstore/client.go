// Package httpstore implements the catalog object store over HTTP: a
// client speaking plain GET, HEAD and PUT with ETag version tokens,
// and the matching handler serving a store directory. Both halves live
// here so the wire contract stays in one place.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
)

// Client is a photocat.ObjectStore backed by an object server. Version
// tokens are the ETags reported by the server. The base URL carries
// the owner prefix, for example http://nas:8091/catalogs/alice.
type Client struct {
	base   string
	httpc  *http.Client
	logger *log.Logger
	tracer oteltrace.Tracer
}

var _ photocat.ObjectStore = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger directs client log output to logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the default HTTP client, for example to
// change timeouts or transport.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// NewClient returns a client for the object store at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported store URL scheme %q", u.Scheme)
	}
	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		httpc: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.New(io.Discard, "", 0),
		tracer: otel.Tracer("httpstore"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) objectURL(key string) string {
	return c.base + "/" + key
}

// etagToken strips the quoting and weakness marker from an ETag header
// so it can serve as an opaque version token.
func etagToken(h http.Header) string {
	tag := strings.TrimPrefix(h.Get("ETag"), "W/")
	return strings.Trim(tag, `"`)
}

func (c *Client) Probe(ctx context.Context, key string) (*photocat.ProbeResult, error) {
	ctx, span := c.tracer.Start(ctx, "object_probe")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to probe object %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return &photocat.ProbeResult{
			Exists: true,
			Token:  etagToken(resp.Header),
			Size:   resp.ContentLength,
		}, nil
	case http.StatusNotFound:
		return &photocat.ProbeResult{}, nil
	default:
		return nil, fmt.Errorf("failed to probe object %s: status %s", key, resp.Status)
	}
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, string, error) {
	ctx, span := c.tracer.Start(ctx, "object_get")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build get request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			span.RecordError(err)
			return nil, "", fmt.Errorf("failed to read object %s: %w", key, err)
		}
		span.SetAttributes(attribute.Int("bytes.fetched", len(data)))
		return data, etagToken(resp.Header), nil
	case http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %s", photocat.ErrObjectNotFound, key)
	default:
		return nil, "", fmt.Errorf("failed to get object %s: status %s", key, resp.Status)
	}
}

// List returns every object key the server holds, sorted.
func (c *Client) List(ctx context.Context) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "object_list")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list objects: status %s", resp.Status)
	}
	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("failed to decode object list: %w", err)
	}
	span.SetAttributes(attribute.Int("objects.listed", len(keys)))
	return keys, nil
}

func (c *Client) Put(ctx context.Context, key string, data []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "object_put")
	defer span.End()
	span.SetAttributes(
		attribute.String("object.key", key),
		attribute.Int("bytes.stored", len(data)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpc.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		token := etagToken(resp.Header)
		if token == "" {
			// Servers without ETag support still get a usable,
			// content-derived token.
			token = catalog.Digest(data)
		}
		return token, nil
	default:
		return "", fmt.Errorf("failed to put object %s: status %s", key, resp.Status)
	}
}

func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, span := c.tracer.Start(ctx, "object_delete")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("failed to delete object %s: status %s", key, resp.Status)
	}
}
