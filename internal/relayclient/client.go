// Package relayclient is the relay side of the task protocol: it registers
// a relay, polls its tasks and reports results.
package relayclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Options configures a Client
type Options struct {
	// Certificate authenticates the relay with mTLS
	Certificate *tls.Certificate
	// RootCAs verifies the site's server certificate; nil uses the system pool
	RootCAs *x509.CertPool
	// Token is sent as a bearer token when set
	Token string
	// RegistrationToken is sent on Register when set
	RegistrationToken string
	Timeout           time.Duration
}

// LoadOptions builds mTLS options from PEM files
func LoadOptions(certFile, keyFile, caFile string) (Options, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return Options{}, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return Options{}, fmt.Errorf("failed to load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return Options{}, fmt.Errorf("failed to append CA certificate")
	}

	return Options{Certificate: &cert, RootCAs: pool}, nil
}

// Client talks to the site's relay API
type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
}

// New creates a client for the site at baseURL, e.g. https://site:8443
func New(baseURL string, opts Options) *Client {
	tlsConfig := &tls.Config{
		RootCAs:    opts.RootCAs,
		MinVersion: tls.VersionTLS12,
	}
	if opts.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*opts.Certificate}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsConfig,
				TLSHandshakeTimeout: 15 * time.Second,
			},
		},
		opts: opts,
	}
}

// APIError is a non-success response from the site
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("site returned status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Registration is what the site returns for an admitted relay
type Registration struct {
	RelayID    string `json:"relayId"`
	ClientCert string `json:"clientCert"`
	RootCert   string `json:"rootCert"`
	Token      string `json:"token"`
}

// Task is a task as the relay sees it
type Task struct {
	ID        string          `json:"id"`
	RelayID   string          `json:"relayId"`
	Spec      json.RawMessage `json:"spec"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PollResult is the relay's view of its queue
type PollResult struct {
	Serial string `json:"serial"`
	Items  []Task `json:"items"`
	Total  int    `json:"total"`
}

// Register asks the site to sign csrPEM. An empty relayID lets the site
// assign one.
func (c *Client) Register(ctx context.Context, relayID, alias string, csrPEM []byte) (*Registration, error) {
	body := map[string]string{
		"relayId": relayID,
		"alias":   alias,
		"csr":     string(csrPEM),
	}
	var reg Registration
	if err := c.do(ctx, http.MethodPost, "/api/v1/relays", body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Poll fetches the relay's pending tasks. serial is the config serial
// the relay last adopted; empty means none.
func (c *Client) Poll(ctx context.Context, relayID, serial string) (*PollResult, error) {
	query := url.Values{}
	query.Set("status", "pending")
	if serial != "" {
		query.Set("serial", serial)
	}
	path := "/api/v1/relays/" + url.PathEscape(relayID) + "/tasks?" + query.Encode()

	var result PollResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Report sends the result of a task. Payloads are zstd compressed.
func (c *Client) Report(ctx context.Context, relayID, taskID string, ok bool, payload []byte) error {
	resultType := "ERROR"
	if ok {
		resultType = "OK"
	}

	body := map[string]any{"resultType": resultType}
	if len(payload) > 0 {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		body["resultPayload"] = enc.EncodeAll(payload, nil)
		body["encoding"] = "zstd"
		enc.Close()
	}

	path := "/api/v1/relays/" + url.PathEscape(relayID) + "/tasks/" + url.PathEscape(taskID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.RegistrationToken != "" && method == http.MethodPost && path == "/api/v1/relays" {
		httpReq.Header.Set("X-Registration-Token", c.opts.RegistrationToken)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var resp envelope
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return &APIError{StatusCode: httpResp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if httpResp.StatusCode != http.StatusOK || resp.Code != 0 {
		return &APIError{StatusCode: httpResp.StatusCode, Code: resp.Code, Message: resp.Message}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
