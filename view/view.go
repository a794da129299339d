package view

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
)

// Record is anything with a stable identifier.
type Record interface {
	RecordID() string
}

// Document is an untyped JSON record keyed by its "id" field.
type Document map[string]any

// RecordID formats the "id" field.
func (d Document) RecordID() string {
	switch v := d["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

type options struct {
	refetch  bool
	notifier Notifier
}

// Option configures a View.
type Option func(*options)

// WithRefetch makes mutations reload the list instead of patching local
// state.
func WithRefetch(on bool) Option {
	return func(o *options) { o.refetch = on }
}

// WithNotifier sets where transient notifications go.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// View holds the local state of one remote collection.
type View[T Record] struct {
	client *Client
	path   string
	opts   options

	mu      sync.RWMutex
	items   []T
	page    Page
	loading int
	window  *[2]int
}

// New returns a View over the collection at path, e.g. "/api/books".
func New[T Record](client *Client, path string, opts ...Option) *View[T] {
	o := options{notifier: discard{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = discard{}
	}
	return &View[T]{client: client, path: path, opts: o}
}

// Items returns a copy of the local records.
func (v *View[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]T(nil), v.items...)
}

// Page returns the window of the last list fetch.
func (v *View[T]) Page() Page {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.page
}

// Loading reports whether a request is in flight.
func (v *View[T]) Loading() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loading > 0
}

// Load replaces local state with the full collection.
func (v *View[T]) Load(ctx context.Context) error {
	return v.fetch(ctx, nil)
}

// LoadPage replaces local state with records [start, end).
func (v *View[T]) LoadPage(ctx context.Context, start, end int) (Page, error) {
	if err := v.fetch(ctx, &[2]int{start, end}); err != nil {
		return Page{}, err
	}
	return v.Page(), nil
}

func (v *View[T]) fetch(ctx context.Context, window *[2]int) error {
	path := v.path
	if window != nil {
		q := url.Values{}
		q.Set("_start", strconv.Itoa(window[0]))
		q.Set("_end", strconv.Itoa(window[1]))
		path += "?" + q.Encode()
	}

	resp, err := v.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var items []T
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		v.fail("Could not read response")
		return fmt.Errorf("decoding list: %w", err)
	}

	page := Page{Start: 0, End: len(items), Total: len(items)}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if p, err := ParseContentRange(cr); err == nil {
			page = p
		}
	} else if window != nil {
		page.Start = window[0]
		page.End = window[0] + len(items)
		if n, err := strconv.Atoi(resp.Header.Get("X-Total-Count")); err == nil {
			page.Total = n
		}
	}

	v.mu.Lock()
	v.items = items
	v.page = page
	v.window = window
	v.mu.Unlock()
	return nil
}

// Get fetches a single record without touching local state.
func (v *View[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	resp, err := v.do(ctx, http.MethodGet, v.itemPath(id), nil)
	if err != nil {
		return zero, err
	}
	var item T
	if err := json.Unmarshal(resp.Body, &item); err != nil {
		return zero, fmt.Errorf("decoding record: %w", err)
	}
	return item, nil
}

// Create posts body and appends the returned record locally.
func (v *View[T]) Create(ctx context.Context, body any) (T, error) {
	var zero T
	resp, err := v.do(ctx, http.MethodPost, v.path, body)
	if err != nil {
		return zero, err
	}
	var item T
	if err := json.Unmarshal(resp.Body, &item); err != nil {
		return zero, fmt.Errorf("decoding record: %w", err)
	}
	v.opts.notifier.Notify(Notification{Level: LevelInfo, Message: "Created"})

	if v.opts.refetch {
		return item, v.reload(ctx)
	}
	v.mu.Lock()
	v.items = append(v.items, item)
	v.page.Total++
	v.page.End++
	v.mu.Unlock()
	return item, nil
}

// Update puts body to the record and swaps in the returned record locally.
func (v *View[T]) Update(ctx context.Context, id string, body any) (T, error) {
	var zero T
	resp, err := v.do(ctx, http.MethodPut, v.itemPath(id), body)
	if err != nil {
		return zero, err
	}
	var item T
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &item); err != nil {
			return zero, fmt.Errorf("decoding record: %w", err)
		}
	}
	v.opts.notifier.Notify(Notification{Level: LevelInfo, Message: "Updated"})

	if v.opts.refetch || item.RecordID() == "" {
		return item, v.reload(ctx)
	}
	v.mu.Lock()
	for n := range v.items {
		if v.items[n].RecordID() == id {
			v.items[n] = item
			break
		}
	}
	v.mu.Unlock()
	return item, nil
}

// Delete removes the record. Local state changes only when the server
// answers 200 or 204.
func (v *View[T]) Delete(ctx context.Context, id string) error {
	resp, err := v.do(ctx, http.MethodDelete, v.itemPath(id), nil)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK && resp.Status != http.StatusNoContent {
		v.fail("Delete failed")
		return statusError(resp)
	}
	v.opts.notifier.Notify(Notification{Level: LevelInfo, Message: "Deleted"})

	if v.opts.refetch {
		return v.reload(ctx)
	}
	v.mu.Lock()
	for n := range v.items {
		if v.items[n].RecordID() == id {
			v.items = append(v.items[:n], v.items[n+1:]...)
			v.page.Total = max(v.page.Total-1, 0)
			v.page.End = max(v.page.End-1, v.page.Start)
			break
		}
	}
	v.mu.Unlock()
	return nil
}

func (v *View[T]) reload(ctx context.Context) error {
	v.mu.RLock()
	window := v.window
	v.mu.RUnlock()
	return v.fetch(ctx, window)
}

// do performs a request, tracking the loading flag and turning transport
// errors and non-2xx statuses into notifications.
func (v *View[T]) do(ctx context.Context, method, path string, body any) (*Response, error) {
	v.mu.Lock()
	v.loading++
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.loading--
		v.mu.Unlock()
	}()

	resp, err := v.client.Do(ctx, method, path, body)
	if err != nil {
		v.fail("Network error")
		return nil, err
	}
	if method == http.MethodDelete {
		return resp, nil
	}
	if !resp.OK() {
		serr := statusError(resp)
		v.fail(serr.Message)
		return nil, serr
	}
	return resp, nil
}

func (v *View[T]) fail(msg string) {
	v.opts.notifier.Notify(Notification{Level: LevelError, Message: msg})
}

func (v *View[T]) itemPath(id string) string {
	return v.path + "/" + url.PathEscape(id)
}
