package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// fullListBatch is the page size used when walking every page of a collection.
const fullListBatch = 500

// ListOptions are the query parameters accepted by list endpoints.
// Zero values are omitted from the request.
type ListOptions struct {
	Page    int
	PerPage int
	Sort    string
	Filter  string
	Expand  string
	Fields  string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		v.Set("perPage", strconv.Itoa(o.PerPage))
	}
	if o.Sort != "" {
		v.Set("sort", o.Sort)
	}
	if o.Filter != "" {
		v.Set("filter", o.Filter)
	}
	if o.Expand != "" {
		v.Set("expand", o.Expand)
	}
	if o.Fields != "" {
		v.Set("fields", o.Fields)
	}
	return v
}

// ListResult is the paging envelope of a list response.
type ListResult struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

type listEnvelope struct {
	ListResult
	Items json.RawMessage `json:"items"`
}

// Records is the record-level surface of the store. Services accept it
// instead of *Client so tests can substitute another implementation.
type Records interface {
	List(ctx context.Context, collection string, opts ListOptions, out any) (ListResult, error)
	FullList(ctx context.Context, collection string, opts ListOptions, out any) error
	FirstListItem(ctx context.Context, collection string, opts ListOptions, out any) error
	One(ctx context.Context, collection, id string, opts ListOptions, out any) error
	Create(ctx context.Context, collection string, body any, out any) error
	CreateMultipart(ctx context.Context, collection string, form Form, out any) error
	Update(ctx context.Context, collection, id string, body any, out any) error
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection, filter string) (int, error)
}

var _ Records = (*Client)(nil)

// List fetches one page of a collection and decodes its items into out,
// which must be a pointer to a slice.
func (c *Client) List(ctx context.Context, collection string, opts ListOptions, out any) (ListResult, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 30
	}
	r := request{method: http.MethodGet, collection: collection, path: recordsPath(collection), query: opts.values()}

	var env listEnvelope
	if err := c.do(ctx, r, &env); err != nil {
		return ListResult{}, err
	}
	if out != nil && len(env.Items) > 0 {
		if err := json.Unmarshal(env.Items, out); err != nil {
			return ListResult{}, fmt.Errorf("decoding %s items: %w", collection, err)
		}
	}
	return env.ListResult, nil
}

// FullList walks every page of the query and decodes all items into out.
func (c *Client) FullList(ctx context.Context, collection string, opts ListOptions, out any) error {
	opts.PerPage = fullListBatch
	var all []json.RawMessage
	for page := 1; ; page++ {
		opts.Page = page
		var items []json.RawMessage
		res, err := c.List(ctx, collection, opts, &items)
		if err != nil {
			return err
		}
		all = append(all, items...)
		if len(items) < fullListBatch || page >= res.TotalPages {
			break
		}
	}

	b, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("collecting %s items: %w", collection, err)
	}
	if all == nil {
		b = []byte("[]")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding %s items: %w", collection, err)
	}
	return nil
}

// FirstListItem returns the first record matching opts.Filter. It fails with
// a 404 ResponseError when nothing matches.
func (c *Client) FirstListItem(ctx context.Context, collection string, opts ListOptions, out any) error {
	opts.Page = 1
	opts.PerPage = 1
	var items []json.RawMessage
	if _, err := c.List(ctx, collection, opts, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		return &ResponseError{Status: http.StatusNotFound, Message: "The requested resource wasn't found."}
	}
	if err := json.Unmarshal(items[0], out); err != nil {
		return fmt.Errorf("decoding %s record: %w", collection, err)
	}
	return nil
}

// One fetches a single record by id. Only Expand and Fields of opts are used.
func (c *Client) One(ctx context.Context, collection, id string, opts ListOptions, out any) error {
	q := ListOptions{Expand: opts.Expand, Fields: opts.Fields}.values()
	r := request{method: http.MethodGet, collection: collection, path: recordPath(collection, id), query: q}
	return c.do(ctx, r, out)
}

// Create inserts a record from a JSON body.
func (c *Client) Create(ctx context.Context, collection string, body any, out any) error {
	r, err := jsonRequest(http.MethodPost, collection, recordsPath(collection), nil, body)
	if err != nil {
		return err
	}
	return c.do(ctx, r, out)
}

// Update patches a record with only the given fields.
func (c *Client) Update(ctx context.Context, collection, id string, body any, out any) error {
	r, err := jsonRequest(http.MethodPatch, collection, recordPath(collection, id), nil, body)
	if err != nil {
		return err
	}
	return c.do(ctx, r, out)
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	r := request{method: http.MethodDelete, collection: collection, path: recordPath(collection, id)}
	return c.do(ctx, r, nil)
}

// Count returns the number of records matching filter without fetching them.
func (c *Client) Count(ctx context.Context, collection, filter string) (int, error) {
	res, err := c.List(ctx, collection, ListOptions{Page: 1, PerPage: 1, Filter: filter, Fields: "id"}, nil)
	if err != nil {
		return 0, err
	}
	return res.TotalItems, nil
}

// File is one file part of a multipart create.
type File struct {
	Field   string
	Name    string
	Content io.Reader
}

// Form is the body of a multipart create: plain fields plus files.
type Form struct {
	Fields map[string]string
	Files  []File
}

// CreateMultipart inserts a record whose file fields are uploaded as
// multipart/form-data.
func (c *Client) CreateMultipart(ctx context.Context, collection string, form Form, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range form.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	for _, f := range form.Files {
		part, err := mw.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return fmt.Errorf("creating file part %s: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copying file %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}

	r := request{
		method:      http.MethodPost,
		collection:  collection,
		path:        recordsPath(collection),
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}
	return c.do(ctx, r, out)
}
