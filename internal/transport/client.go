package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"feeder/internal/bundle"
)

const (
	apiPrefix          = "/api/v1"
	defaultHTTPTimeout = 20 * time.Second
	contentTypeBundle  = "application/octet-stream"
	contentTypeForm    = "application/x-www-form-urlencoded"
)

// Client speaks the coordinator and worker HTTP APIs.
type Client struct {
	http *http.Client
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + apiPrefix + path
}

func (c *Client) postForm(ctx context.Context, target string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeForm)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", target, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// Notify tells the worker at workerURL that spaceURL has work.
func (c *Client) Notify(ctx context.Context, workerURL, spaceURL string) error {
	resp, err := c.postForm(ctx, endpoint(workerURL, "/open"), url.Values{"space": {spaceURL}})
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return newErrBadStatus("notify", resp.StatusCode)
	}
	return nil
}

// Take asks the coordinator at spaceURL for a bundle. An empty bundle
// means there is no work.
func (c *Client) Take(ctx context.Context, spaceURL, workerID string) (*bundle.Bundle, error) {
	resp, err := c.postForm(ctx, endpoint(spaceURL, "/take"), url.Values{"worker": {workerID}})
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, newErrBadStatus("take", resp.StatusCode)
	}
	b, err := bundle.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("take from %s: %w", spaceURL, err)
	}
	return b, nil
}

// Complete reports a bundle outcome to the coordinator at spaceURL.
func (c *Client) Complete(ctx context.Context, spaceURL, workerID, bundleID string, ok bool) error {
	form := url.Values{
		"worker":    {workerID},
		"bundle_id": {bundleID},
		"success":   {strconv.FormatBool(ok)},
	}
	resp, err := c.postForm(ctx, endpoint(spaceURL, "/completed"), form)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return newErrBadStatus("complete", resp.StatusCode)
	}
	return nil
}

// Register announces workerID to the coordinator at coordURL.
func (c *Client) Register(ctx context.Context, coordURL, workerID string) error {
	resp, err := c.postForm(ctx, endpoint(coordURL, "/workers"), url.Values{"worker": {workerID}})
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return newErrBadStatus("register", resp.StatusCode)
	}
	return nil
}

// Deregister withdraws workerID from the coordinator at coordURL.
func (c *Client) Deregister(ctx context.Context, coordURL, workerID string) error {
	target := endpoint(coordURL, "/workers") + "?" + url.Values{"worker": {workerID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", target, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return newErrBadStatus("deregister", resp.StatusCode)
	}
	return nil
}

// Push hands b straight to the worker at workerURL. from names the space
// the worker should report the outcome to.
func (c *Client) Push(ctx context.Context, workerURL, from string, b *bundle.Bundle) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	target := endpoint(workerURL, "/bundles") + "?" + url.Values{"space": {from}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeBundle)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", target, err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusServiceUnavailable:
		return ErrWorkerBusy
	default:
		return newErrBadStatus("push", resp.StatusCode)
	}
}

// Notices sends work-available notices on behalf of one space.
type Notices struct {
	Client   *Client
	SpaceURL string
}

func (n Notices) Notify(ctx context.Context, workerID string) error {
	return n.Client.Notify(ctx, workerID, n.SpaceURL)
}
