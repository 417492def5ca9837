package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/vm"
)

// ErrNotServing means no corral process answered on the control socket.
var ErrNotServing = errors.New("corral serve is not reachable")

// Client talks to a Server over its unix socket.
type Client struct {
	socket string
	http   *http.Client
}

// NewClient returns a client for the socket at path. A zero timeout means
// requests are bounded only by their context.
func NewClient(path string, timeout time.Duration) *Client {
	dialer := &net.Dialer{}
	return &Client{
		socket: path,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", path)
				},
			},
		},
	}
}

// Ping checks that a server is answering.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil, nil)
}

// Define stores the YAML definition in manifest as a persistent domain.
func (c *Client) Define(ctx context.Context, manifest []byte) (*v1alpha1.Domain, error) {
	var d v1alpha1.Domain
	if err := c.do(ctx, http.MethodPost, "/v1/domains", nil, manifest, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateTransient starts the YAML definition in manifest as a transient domain.
func (c *Client) CreateTransient(ctx context.Context, manifest []byte, paused bool) (*v1alpha1.Domain, error) {
	var d v1alpha1.Domain
	if err := c.do(ctx, http.MethodPost, "/v1/transient", flag("paused", paused), manifest, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns every domain the server manages.
func (c *Client) List(ctx context.Context) ([]*v1alpha1.Domain, error) {
	var items []*v1alpha1.Domain
	if err := c.do(ctx, http.MethodGet, "/v1/domains", nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Get returns the domain named by ref, a name or uid.
func (c *Client) Get(ctx context.Context, ref string) (*v1alpha1.Domain, error) {
	var d v1alpha1.Domain
	if err := c.do(ctx, http.MethodGet, domainPath(ref, ""), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Start(ctx context.Context, ref string, paused bool) (*v1alpha1.Domain, error) {
	var d v1alpha1.Domain
	if err := c.do(ctx, http.MethodPost, domainPath(ref, "start"), flag("paused", paused), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Resume(ctx context.Context, ref string) (*v1alpha1.Domain, error) {
	var d v1alpha1.Domain
	if err := c.do(ctx, http.MethodPost, domainPath(ref, "resume"), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Shutdown(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, domainPath(ref, "shutdown"), nil, nil, nil)
}

func (c *Client) Reboot(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, domainPath(ref, "reboot"), nil, nil, nil)
}

func (c *Client) Destroy(ctx context.Context, ref string, force bool) error {
	return c.do(ctx, http.MethodPost, domainPath(ref, "destroy"), flag("force", force), nil, nil)
}

func (c *Client) Undefine(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, domainPath(ref, ""), nil, nil, nil)
}

// Info returns live resource usage of the domain.
func (c *Client) Info(ctx context.Context, ref string) (vm.Info, error) {
	var info vm.Info
	err := c.do(ctx, http.MethodGet, domainPath(ref, "info"), nil, nil, &info)
	return info, err
}

// Dump returns the stored YAML definition of the domain.
func (c *Client) Dump(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	if err := c.do(ctx, http.MethodGet, domainPath(ref, "definition"), nil, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func domainPath(ref, action string) string {
	p := "/v1/domains/" + url.PathEscape(ref)
	if action != "" {
		p += "/" + action
	}
	return p
}

func flag(key string, v bool) url.Values {
	return url.Values{key: []string{strconv.FormatBool(v)}}
}

// do sends a request and decodes the reply into out. A *[]byte out receives
// the raw body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	u := url.URL{Scheme: "http", Host: "corral", Path: path, RawQuery: query.Encode()}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/yaml")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w on %s: %w", ErrNotServing, c.socket, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
			return &RemoteError{Kind: KindInternal, Message: fmt.Sprintf("unexpected response %s", resp.Status)}
		}
		return &RemoteError{Kind: e.Kind, Message: e.Error}
	}

	switch out := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*out = data
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}
