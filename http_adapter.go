package authbridge

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, br, zstd"

// HTTPAdapter is the default TransportAdapter: one net/http round trip per
// call, with the response body fully read and decoded.
type HTTPAdapter struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPAdapter(client *http.Client, userAgent string) *HTTPAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAdapter{Client: client, UserAgent: userAgent}
}

// ExecuteRequest sends req as-is. req.Endpoint must be an absolute URL.
func (a *HTTPAdapter) ExecuteRequest(ctx context.Context, req *NormalizedRequest) (*NormalizedResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if a.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", a.UserAgent)
	}
	// Setting Accept-Encoding turns off net/http's transparent gzip handling.
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	encoding := resp.Header.Get("Content-Encoding")
	if req.Method == http.MethodHead || resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 {
		encoding = ""
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(k)] = vals[0]
		}
	}

	// A body that cannot be decoded is passed through raw so the status
	// still drives refresh and retry decisions.
	data := raw
	if decoded, err := decodeBody(raw, encoding); err == nil {
		data = decoded
		delete(headers, "content-encoding")
	}

	return &NormalizedResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Data:       data,
	}, nil
}

// decodeBody decodes raw according to contentEncoding.
func decodeBody(raw []byte, contentEncoding string) ([]byte, error) {
	var reader io.Reader
	switch strings.TrimSpace(strings.ToLower(contentEncoding)) {
	case "", "identity":
		return raw, nil
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		defer gr.Close()
		reader = gr
	case "br":
		reader = brotli.NewReader(bytes.NewReader(raw))
	case "zstd":
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zstd response: %w", err)
		}
		defer dec.Close()
		reader = dec
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", contentEncoding, err)
	}
	return data, nil
}
