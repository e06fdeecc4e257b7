package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bypasskv/internal/api"
	"bypasskv/internal/faults"
	"bypasskv/internal/hooks"
	"bypasskv/internal/model"
	"bypasskv/internal/storage"
)

// APIError surfaces non-2xx responses from the region server.
type APIError struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Body.Message)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

var ErrNotFound = errors.New("not found")

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
	return err
}

// CreateTable creates a table, or returns the existing one with that name.
func (c *Client) CreateTable(ctx context.Context, table, family string, capacity int) (api.TableResponse, error) {
	var out api.TableResponse
	_, err := c.do(ctx, http.MethodPut, tablePath(table), nil, api.TableRequest{Family: family, Capacity: capacity}, &out)
	return out, err
}

// DropTable disables and deletes a table. A missing table is ErrNotFound.
func (c *Client) DropTable(ctx context.Context, table string) error {
	_, err := c.do(ctx, http.MethodDelete, tablePath(table), nil, nil, nil)
	return err
}

func (c *Client) Table(name string) *Table {
	return &Table{c: c, name: name}
}

// Table is a remote region handle.
type Table struct {
	c    *Client
	name string
}

func (t *Table) Name() string {
	return t.name
}

// BatchMutate submits one batch. A write failure on the server comes back as
// a *faults.StorageFault.
func (t *Table) BatchMutate(ctx context.Context, batch []model.Mutation) error {
	header := http.Header{}
	header.Set(api.BatchIDHeader, uuid.NewString())

	_, err := t.c.do(ctx, http.MethodPost, tablePath(t.name)+"/batch", header, api.EncodeBatch(batch), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Body.Kind {
	case api.ErrorKindCapacity:
		key, _ := api.DecodeBytes(apiErr.Body.Key)
		return &faults.StorageFault{Index: apiErr.Body.Index, Key: key, Cause: errors.Wrap(storage.ErrCapacity, apiErr.Body.Message)}
	case api.ErrorKindStorage:
		key, _ := api.DecodeBytes(apiErr.Body.Key)
		return &faults.StorageFault{Index: apiErr.Body.Index, Key: key, Cause: apiErr}
	default:
		return err
	}
}

// Get retrieves a row; an absent row returns false.
func (t *Table) Get(ctx context.Context, key []byte) (model.Payload, bool, error) {
	var row api.RowResponse
	_, err := t.c.do(ctx, http.MethodGet, tablePath(t.name)+"/rows/"+api.EncodePathKey(key), nil, nil, &row)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	payload, err := api.DecodePayload(row.Payload)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// SetPredicate installs a bypass predicate on the server. Only *hooks.KeySet
// (or nil, meaning never bypass) can be sent.
func (t *Table) SetPredicate(ctx context.Context, predicate hooks.BypassPredicate) error {
	req := api.PredicateRequest{BypassKeys: []string{}}
	switch p := predicate.(type) {
	case nil:
	case *hooks.KeySet:
		for _, k := range p.Keys() {
			req.BypassKeys = append(req.BypassKeys, api.EncodeBytes(k))
		}
	default:
		return errors.Wrapf(hooks.ErrUnsupportedPredicate, "%T", predicate)
	}
	_, err := t.c.do(ctx, http.MethodPut, tablePath(t.name)+"/predicate", nil, req, nil)
	return err
}

func (t *Table) Snapshot(ctx context.Context) (hooks.Snapshot, error) {
	var out api.CountersResponse
	_, err := t.c.do(ctx, http.MethodGet, tablePath(t.name)+"/counters", nil, nil, &out)
	return out, err
}

func tablePath(table string) string {
	return "/tables/" + url.PathEscape(table)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, &apiErr.Body); jsonErr != nil {
			apiErr.Body.Message = string(data)
		}
		return resp, apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, errors.Wrap(err, "decode response")
		}
	}
	return resp, nil
}
