package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"tasksync/internal/service"
)

// Rest implements service.TaskStore over PostgREST.
type Rest struct {
	c      *Client
	schema string
	table  string
}

// SelectAll implements service.TaskStore.
func (r *Rest) SelectAll(ctx context.Context) ([]service.Task, error) {
	return r.do(ctx, http.MethodGet, url.Values{"select": {"*"}}, nil, false)
}

// Insert implements service.TaskStore.
func (r *Rest) Insert(ctx context.Context, task service.NewTask) (service.Task, error) {
	rows, err := r.do(ctx, http.MethodPost, nil, task, true)
	if err != nil {
		return service.Task{}, err
	}
	if len(rows) == 0 {
		return service.Task{}, fmt.Errorf("%w: insert returned no row", service.ErrQuery)
	}
	return rows[0], nil
}

// Update implements service.TaskStore. An update that matches no visible
// row is an error.
func (r *Rest) Update(ctx context.Context, id int64, fields service.TaskFields) (service.Task, error) {
	rows, err := r.do(ctx, http.MethodPatch, idFilter(id), fields, true)
	if err != nil {
		return service.Task{}, err
	}
	if len(rows) == 0 {
		return service.Task{}, fmt.Errorf("%w: task %d not found", service.ErrQuery, id)
	}
	return rows[0], nil
}

// Delete implements service.TaskStore. Deleting a missing row is not an error.
func (r *Rest) Delete(ctx context.Context, id int64) error {
	_, err := r.do(ctx, http.MethodDelete, idFilter(id), nil, false)
	return err
}

func idFilter(id int64) url.Values {
	return url.Values{"id": {"eq." + strconv.FormatInt(id, 10)}}
}

// do sends one table request. With represent set, the affected rows are
// returned in the response body.
func (r *Rest) do(ctx context.Context, method string, query url.Values, body any, represent bool) ([]service.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	header := http.Header{}
	if r.schema != "" && r.schema != "public" {
		header.Set("Accept-Profile", r.schema)
		header.Set("Content-Profile", r.schema)
	}
	if represent {
		header.Set("Prefer", "return=representation")
	}

	var reader io.Reader
	if body != nil {
		var err error
		reader, err = jsonBody(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", service.ErrQuery, err)
		}
		header.Set("Content-Type", "application/json")
	}

	data, err := r.c.doRequest(ctx, r.c.authedClient, method, "/rest/v1/"+url.PathEscape(r.table), query, header, reader)
	if err != nil {
		return nil, wrapError(service.ErrQuery, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rows []service.Task
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %w", service.ErrQuery, err)
	}
	return rows, nil
}
