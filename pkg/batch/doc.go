// Package batch fetches full records for a list of ids in parallel chunks.
//
// The CMS accepts a bounded number of ids per by-id request. Reconciliation
// may need hundreds of records after a bulk edit, so the ids are split into
// chunks and fetched by a small worker pool:
//
//	fetcher := batch.New(func(ctx context.Context, ids []string) ([]cms.Project, error) {
//		return client.FetchProjectsByID(ctx, ids, cache.LanguageEN)
//	}, batch.DefaultConfig())
//	projects, err := fetcher.Fetch(ctx, ids)
//
// The fetcher:
//   - Splits ids into chunks of ChunkSize
//   - Fetches a single chunk inline, larger batches with MaxConcurrency workers
//   - Applies Timeout to every chunk request
//   - Returns records in chunk order
//   - Fails the whole batch on the first chunk error and stops the other workers
package batch
