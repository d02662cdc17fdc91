// Package decode is the client for the external barcode decode service.
//
// The service accepts a frame image and answers with the decoded product code:
//
//	POST {url}/scan  (multipart, field "image")
//	200 → {"upc": "...", "extension": "..."}
//	400 → no barcode found
//
// Accuracy and latency are the service's problem; this client only cares
// about the success/failure/timeout contract.
package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/panelbase/comicscan/pkg/protocol"
)

// ErrNoBarcode means the service examined the frame and found nothing.
// In the continuous loop this is routine and swallowed; the manual path
// surfaces it.
var ErrNoBarcode = errors.New("decode: no barcode found")

// Client talks to one decode service instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a decode client. The per-request deadline comes from the
// caller's context, not from the HTTP client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Result is the decode service's answer.
type Result struct {
	UPC       string `json:"upc"`
	Extension string `json:"extension"`
}

// Scan submits a frame and returns the decoded result. The context deadline
// bounds the whole round trip.
func (c *Client) Scan(ctx context.Context, frame []byte) (Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return Result{}, fmt.Errorf("decode: build request: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return Result{}, fmt.Errorf("decode: build request: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", &body)
	if err != nil {
		return Result{}, fmt.Errorf("decode: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("decode: submit frame: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var res Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Result{}, fmt.Errorf("decode: parse response: %w", err)
		}
		if res.UPC == "" {
			return Result{}, fmt.Errorf("decode: empty upc in response")
		}
		return res, nil

	case http.StatusBadRequest:
		return Result{}, ErrNoBarcode

	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("decode: service returned %d: %s", resp.StatusCode, string(snippet))
	}
}

// Decode adapts Scan to the capture scheduler's Decoder interface, stamping
// the item with its scan time.
func (c *Client) Decode(ctx context.Context, frame []byte) (protocol.Item, error) {
	res, err := c.Scan(ctx, frame)
	if err != nil {
		return protocol.Item{}, err
	}
	return protocol.Item{
		UPC:       res.UPC,
		Extension: res.Extension,
		ScannedAt: time.Now().UnixMilli(),
	}, nil
}

// Ping checks the service's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("decode: health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("decode: health check returned %d", resp.StatusCode)
	}
	return nil
}
