package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
	"github.com/drblury/syncflow/internal/runtime/metrics"
)

const defaultTimeout = 10 * time.Second

// Client is the HTTP implementation of Resolver.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Recorder
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMetrics counts requests per operation and result.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// NewClient returns a client for the mapping service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRequest struct {
	ServiceID string `json:"ServiceId"`
	Service   string `json:"Service"`
}

type createResponse struct {
	Success    bool   `json:"success"`
	MasterUUID string `json:"MasterUuid"`
}

func (c *Client) CreateMasterIdentity(ctx context.Context, service, localID string) (string, error) {
	if localID == "" {
		return "", ErrEmptyIdentifier
	}
	var resp createResponse
	status, err := c.call(ctx, "create_master_identity", "/createMasterUuid", createRequest{ServiceID: localID, Service: service}, &resp)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound || !resp.Success || resp.MasterUUID == "" {
		c.metrics.IdentityRequest("create_master_identity", "rejected")
		return "", fmt.Errorf("%w: master identity for %s/%s was not created", ErrServiceUnavailable, service, localID)
	}
	c.metrics.IdentityRequest("create_master_identity", "created")
	return resp.MasterUUID, nil
}

type masterLookupResponse struct {
	UUID *string `json:"UUID"`
}

func (c *Client) GetMasterUUID(ctx context.Context, service, localID string) (string, bool, error) {
	if localID == "" {
		return "", false, nil
	}
	var resp masterLookupResponse
	status, err := c.call(ctx, "get_master_uuid", "/getMasterUuid", createRequest{ServiceID: localID, Service: service}, &resp)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound || resp.UUID == nil || *resp.UUID == "" {
		c.metrics.IdentityRequest("get_master_uuid", "not_found")
		return "", false, nil
	}
	c.metrics.IdentityRequest("get_master_uuid", "found")
	return *resp.UUID, true, nil
}

type serviceLookupRequest struct {
	MasterUUID string `json:"MASTERUUID"`
	Service    string `json:"Service"`
}

func (c *Client) GetServiceID(ctx context.Context, service, masterUUID string) (string, bool, error) {
	if masterUUID == "" {
		return "", false, nil
	}
	var resp map[string]any
	status, err := c.call(ctx, "get_service_id", "/getServiceId", serviceLookupRequest{MasterUUID: masterUUID, Service: service}, &resp)
	if err != nil {
		return "", false, err
	}
	id := scalarString(resp[service])
	if status == http.StatusNotFound || id == "" {
		c.metrics.IdentityRequest("get_service_id", "not_found")
		return "", false, nil
	}
	c.metrics.IdentityRequest("get_service_id", "found")
	return id, true, nil
}

type addBindingRequest struct {
	MasterUUID string `json:"MasterUuid"`
	Service    string `json:"Service"`
	ServiceID  string `json:"ServiceId"`
}

func (c *Client) AddServiceBinding(ctx context.Context, masterUUID, service, localID string) error {
	if masterUUID == "" || localID == "" {
		return ErrEmptyIdentifier
	}
	status, err := c.call(ctx, "add_service_binding", "/addServiceId", addBindingRequest{MasterUUID: masterUUID, Service: service, ServiceID: localID}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		c.metrics.IdentityRequest("add_service_binding", "rejected")
		return &StatusError{Operation: "add_service_binding", StatusCode: status, Body: "unknown master uuid " + masterUUID}
	}
	c.metrics.IdentityRequest("add_service_binding", "ok")
	return nil
}

type clearBindingRequest struct {
	MasterUUID   string  `json:"MASTERUUID"`
	NewServiceID *string `json:"NewServiceId"`
	Service      string  `json:"Service"`
}

func (c *Client) DeleteServiceBinding(ctx context.Context, masterUUID, service string) error {
	if masterUUID == "" {
		return ErrEmptyIdentifier
	}
	// A missing binding is already in the desired state.
	if _, err := c.call(ctx, "delete_service_binding", "/updateServiceId", clearBindingRequest{MasterUUID: masterUUID, Service: service}, nil); err != nil {
		return err
	}
	c.metrics.IdentityRequest("delete_service_binding", "ok")
	return nil
}

// call posts body as JSON and decodes a 2xx response into out. 404 is passed
// back to the caller; any other non-2xx status becomes a StatusError.
func (c *Client) call(ctx context.Context, operation, path string, body, out any) (int, error) {
	payload, err := jsoncodec.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("identity %s: encode request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("identity %s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IdentityRequest(operation, "error")
		return 0, fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.IdentityRequest(operation, "error")
		return 0, fmt.Errorf("%w: %s: read response: %w", ErrServiceUnavailable, operation, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.metrics.IdentityRequest(operation, "error")
		return resp.StatusCode, &StatusError{Operation: operation, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := jsoncodec.Unmarshal(raw, out); err != nil {
			c.metrics.IdentityRequest(operation, "error")
			return resp.StatusCode, fmt.Errorf("%w: %s: decode response: %w", ErrServiceUnavailable, operation, err)
		}
	}
	return resp.StatusCode, nil
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
