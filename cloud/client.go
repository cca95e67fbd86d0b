// Package cloud implements the client for the remote device control API. The
// API wraps every response in an envelope carrying a status code and message,
// only an envelope with the success sentinel is treated as authoritative.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Requester is the narrow contract the rest of cda uses to reach the cloud.
type Requester interface {
	// Devices returns the full device listing, physical and infrared.
	Devices(ctx context.Context) ([]Description, error)
	// Status returns the raw status object for a device. The envelope has
	// already been validated, parsing the payload is the caller's concern.
	Status(ctx context.Context, deviceID string) (json.RawMessage, error)
	// SendCommand posts a single command to a device.
	SendCommand(ctx context.Context, deviceID string, cmd Command) error
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a client against baseURL, e.g. "https://api.example.com/v1.0".
// The underlying http.Client is shared by all devices and is safe for
// concurrent use.
func New(baseURL string, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
	}
}

// WithHTTPClient replaces the underlying HTTP client, primarily for tests and
// for callers which need transport level tuning.
func (c *Client) WithHTTPClient(h *http.Client) {
	c.http = h
}

func (c *Client) Devices(ctx context.Context) ([]Description, error) {
	op := "list devices"

	body, err := c.get(ctx, op, "/devices")
	if err != nil {
		return nil, err
	}

	var dl deviceListBody
	if err := json.Unmarshal(body, &dl); err != nil {
		return nil, ProtocolError{Op: op, HTTPStatus: http.StatusOK, StatusCode: SuccessStatusCode, Message: fmt.Sprintf("malformed device list: %s", err)}
	}

	var descriptions []Description

	for _, d := range dl.DeviceList {
		descriptions = append(descriptions, Description{
			ID:    d.DeviceID,
			Type:  d.DeviceType,
			Name:  d.DeviceName,
			Hub:   d.HubDeviceID,
			Cloud: d.EnableCloudService,
		})
	}

	for _, d := range dl.InfraredRemoteList {
		descriptions = append(descriptions, Description{
			ID:     d.DeviceID,
			Type:   d.RemoteType,
			Name:   d.DeviceName,
			Hub:    d.HubDeviceID,
			Cloud:  true,
			Remote: true,
		})
	}

	return descriptions, nil
}

func (c *Client) Status(ctx context.Context, deviceID string) (json.RawMessage, error) {
	return c.get(ctx, "get status", fmt.Sprintf("/devices/%s/status", deviceID))
}

func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd Command) error {
	op := "post command"

	payload, err := json.Marshal(cmd)
	if err != nil {
		return TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/devices/%s/commands", c.baseURL, deviceID), bytes.NewReader(payload))
	if err != nil {
		return TransportError{Op: op, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, op)
	return err
}

func (c *Client) get(ctx context.Context, op string, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, TransportError{Op: op, Err: err}
	}

	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (json.RawMessage, error) {
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ProtocolError{Op: op, HTTPStatus: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, ProtocolError{Op: op, HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("malformed envelope: %s", err)}
	}

	if env.StatusCode != SuccessStatusCode {
		return nil, ProtocolError{Op: op, HTTPStatus: resp.StatusCode, StatusCode: env.StatusCode, Message: env.Message}
	}

	return env.Body, nil
}

var _ Requester = (*Client)(nil)
