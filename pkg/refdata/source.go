package refdata

import "context"

//go:generate mockgen -source=source.go -destination=mocks/mock_source.go -package=mocks

// Source fetches the three reference collections from the CMS.
type Source interface {
	FetchLocations(ctx context.Context) ([]Location, error)
	FetchFormats(ctx context.Context) ([]Format, error)
	FetchContexts(ctx context.Context) (*RawContext, error)
}
