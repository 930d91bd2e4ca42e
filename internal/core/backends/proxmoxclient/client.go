// Package proxmoxclient is a minimal REST client for the subset of the
// Proxmox VE API the hypervisor backend needs: snapshots, VM status, and
// task polling. No SDK for this exists in the example pack, so it follows
// the plain net/http request-building idiom used throughout the corpus
// (build request, set auth header, client.Do, check status, decode JSON).
package proxmoxclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	host       string
	tokenName  string
	tokenValue string
	http       *http.Client
}

func New(host, tokenName, tokenValue string) *Client {
	return &Client{
		host:       strings.TrimRight(host, "/"),
		tokenName:  tokenName,
		tokenValue: tokenValue,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: nil,
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body url.Values, out interface{}) error {
	full := fmt.Sprintf("https://%s:8006/api2/json%s", c.host, path)

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, full, strings.NewReader(body.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, full, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s=%s", c.tokenName, c.tokenValue))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("proxmox request %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding proxmox response: %w", err)
	}
	return json.Unmarshal(envelope.Data, out)
}

func vmPath(node string, vmid int, suffix string) string {
	return fmt.Sprintf("/nodes/%s/qemu/%d%s", node, vmid, suffix)
}

func (c *Client) SnapshotCreate(ctx context.Context, node string, vmid int, name, description string) error {
	form := url.Values{"snapname": {name}, "description": {description}}
	return c.do(ctx, http.MethodPost, vmPath(node, vmid, "/snapshot"), form, nil)
}

func (c *Client) SnapshotDelete(ctx context.Context, node string, vmid int, name string) error {
	return c.do(ctx, http.MethodDelete, vmPath(node, vmid, "/snapshot/"+name), nil, nil)
}

// SnapshotRollback starts an asynchronous rollback task and returns its
// UPID for polling via TaskStatus.
func (c *Client) SnapshotRollback(ctx context.Context, node string, vmid int, name string) (string, error) {
	var upid string
	err := c.do(ctx, http.MethodPost, vmPath(node, vmid, "/snapshot/"+name+"/rollback"), url.Values{}, &upid)
	return upid, err
}

func (c *Client) Stop(ctx context.Context, node string, vmid int) error {
	return c.do(ctx, http.MethodPost, vmPath(node, vmid, "/status/stop"), url.Values{}, nil)
}

func (c *Client) Start(ctx context.Context, node string, vmid int) error {
	return c.do(ctx, http.MethodPost, vmPath(node, vmid, "/status/start"), url.Values{}, nil)
}

type VMStatus struct {
	Status string `json:"status"`
}

func (c *Client) CurrentStatus(ctx context.Context, node string, vmid int) (*VMStatus, error) {
	var status VMStatus
	err := c.do(ctx, http.MethodGet, vmPath(node, vmid, "/status/current"), nil, &status)
	return &status, err
}

type TaskStatus struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
}

func (c *Client) TaskStatus(ctx context.Context, node, upid string) (*TaskStatus, error) {
	var status TaskStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/nodes/%s/tasks/%s/status", node, upid), nil, &status)
	return &status, err
}
