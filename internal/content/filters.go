package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/cms-cache/pkg/orchestrator"
	"github.com/Sternrassler/cms-cache/pkg/refdata"
)

// FilterKind names one filter collection.
type FilterKind string

const (
	FilterLocations FilterKind = "locations"
	FilterFormats   FilterKind = "formats"
	FilterContexts  FilterKind = "contexts"
)

// FilterKinds lists every filter collection.
var FilterKinds = []FilterKind{FilterContexts, FilterLocations, FilterFormats}

// ErrUnknownFilter is returned for unsupported filter kinds.
var ErrUnknownFilter = errors.New("unknown filter kind")

const filtersResource = "/api/filters"

// ParseFilterKind validates a filter kind.
func ParseFilterKind(s string) (FilterKind, error) {
	kind := FilterKind(strings.ToLower(s))
	for _, k := range FilterKinds {
		if k == kind {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFilter, s)
}

func filterKey(kind FilterKind) string {
	return filtersResource + "/" + string(kind)
}

func kindOfKey(key string) FilterKind {
	return FilterKind(strings.TrimPrefix(key, filtersResource+"/"))
}

// Filters returns the filter collection of kind: []refdata.Location,
// []refdata.Format or []refdata.ContextNode sorted by id.
func (s *Service) Filters(ctx context.Context, kind FilterKind) (any, error) {
	if _, err := ParseFilterKind(string(kind)); err != nil {
		return nil, err
	}
	return orchestrator.GetOrSet(ctx, s.filters, filterKey(kind), func(ctx context.Context) (any, error) {
		return s.loadFilter(ctx, kind)
	}, 0)
}

// Context returns one context with its ancestor chain.
func (s *Service) Context(id string) (refdata.ContextNode, bool) {
	return s.refdata.Context(id)
}

// loadFilter reads a filter collection from the reference data snapshot, or
// straight from the CMS while the snapshot is not ready.
func (s *Service) loadFilter(ctx context.Context, kind FilterKind) (any, error) {
	if snap, ok := s.refdata.Snapshot(); ok {
		switch kind {
		case FilterLocations:
			return snap.Locations, nil
		case FilterFormats:
			return snap.Formats, nil
		case FilterContexts:
			return sortedContexts(snap.Contexts), nil
		}
	}

	switch kind {
	case FilterLocations:
		return s.remote.FetchLocations(ctx)
	case FilterFormats:
		return s.remote.FetchFormats(ctx)
	case FilterContexts:
		root, err := s.remote.FetchContexts(ctx)
		if err != nil {
			return nil, err
		}
		return sortedContexts(refdata.BuildContextIndex(root)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, kind)
	}
}

func sortedContexts(index map[string]refdata.ContextNode) []refdata.ContextNode {
	nodes := make([]refdata.ContextNode, 0, len(index))
	for _, node := range index {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}
