package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/reconcile"
	"github.com/Sternrassler/cms-cache/pkg/refdata"
)

// maxBody bounds decoded response bodies.
const maxBody = 64 << 20

// FetchProjects fetches the full project collection in one language.
func (c *Client) FetchProjects(ctx context.Context, lang cache.Language) ([]Project, error) {
	var projects []Project
	if err := c.getList(ctx, c.config.Paths.Projects, nil, lang, &projects); err != nil {
		return nil, err
	}
	return nonNil(projects), nil
}

// FetchModifiedIndex fetches the lightweight (uuid, modified) index of all projects.
func (c *Client) FetchModifiedIndex(ctx context.Context) ([]reconcile.IndexEntry, error) {
	var rows []projectHead
	if err := c.getList(ctx, c.config.Paths.Modified, nil, "", &rows); err != nil {
		return nil, err
	}

	index := make([]reconcile.IndexEntry, 0, len(rows))
	for _, row := range rows {
		if row.UUID == "" {
			continue
		}
		index = append(index, reconcile.IndexEntry{ID: row.UUID, Modified: string(row.Modified)})
	}
	return index, nil
}

// FetchProjectsByID fetches full records for the given ids in one language.
// Ids the CMS no longer knows are simply absent from the result.
func (c *Client) FetchProjectsByID(ctx context.Context, ids []string, lang cache.Language) ([]Project, error) {
	if len(ids) == 0 {
		return []Project{}, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))

	var projects []Project
	if err := c.getList(ctx, c.config.Paths.ByID, query, lang, &projects); err != nil {
		return nil, err
	}
	return nonNil(projects), nil
}

// FetchLocations fetches the location list.
func (c *Client) FetchLocations(ctx context.Context) ([]refdata.Location, error) {
	var locations []refdata.Location
	if err := c.getList(ctx, c.config.Paths.Locations, nil, "", &locations); err != nil {
		return nil, err
	}
	return nonNil(locations), nil
}

// FetchFormats fetches the format list.
func (c *Client) FetchFormats(ctx context.Context) ([]refdata.Format, error) {
	var formats []refdata.Format
	if err := c.getList(ctx, c.config.Paths.Formats, nil, "", &formats); err != nil {
		return nil, err
	}
	return nonNil(formats), nil
}

// FetchContexts fetches the context tree.
func (c *Client) FetchContexts(ctx context.Context) (*refdata.RawContext, error) {
	body, err := c.getBody(ctx, c.config.Paths.Contexts, nil, "")
	if err != nil {
		return nil, err
	}

	obj, err := unwrapObject(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.config.Paths.Contexts, err)
	}

	var root refdata.RawContext
	if err := json.Unmarshal(obj, &root); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, c.config.Paths.Contexts, err)
	}
	return &root, nil
}

func (c *Client) getList(ctx context.Context, path string, query url.Values, lang cache.Language, out any) error {
	body, err := c.getBody(ctx, path, query, lang)
	if err != nil {
		return err
	}

	list, err := unwrapList(body)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := json.Unmarshal(list, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, path, err)
	}
	return nil
}

func (c *Client) getBody(ctx context.Context, path string, query url.Values, lang cache.Language) ([]byte, error) {
	resp, err := c.Get(ctx, path, query, lang)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Compile-time check that the client can feed the reference data cache.
var _ refdata.Source = (*Client)(nil)
