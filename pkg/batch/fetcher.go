package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// ChunkSize is the number of ids per request
	ChunkSize int
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per chunk fetch
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration for the CMS
func DefaultConfig() Config {
	return Config{
		ChunkSize:      50,
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// ChunkFetcher fetches the records of one chunk of ids
type ChunkFetcher[R any] func(ctx context.Context, ids []string) ([]R, error)

// chunkResult represents the result of fetching a single chunk
type chunkResult[R any] struct {
	index   int
	records []R
	err     error
}

// Fetcher handles parallel fetching of id chunks
type Fetcher[R any] struct {
	fetch  ChunkFetcher[R]
	config Config
}

// New creates a new batch fetcher
func New[R any](fetch ChunkFetcher[R], config Config) *Fetcher[R] {
	defaults := DefaultConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Fetcher[R]{
		fetch:  fetch,
		config: config,
	}
}

// Chunks splits ids into consecutive chunks of at most size ids.
func Chunks(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// Fetch fetches the records for all ids. Records are returned in chunk
// order; any chunk error fails the batch.
func (f *Fetcher[R]) Fetch(ctx context.Context, ids []string) ([]R, error) {
	if len(ids) == 0 {
		return []R{}, nil
	}

	start := time.Now()
	chunks := Chunks(ids, f.config.ChunkSize)

	// Single chunk optimization
	if len(chunks) == 1 {
		records, err := f.fetchChunk(ctx, chunks[0])
		if err != nil {
			return nil, fmt.Errorf("fetch chunk 1/1: %w", err)
		}
		return records, nil
	}

	log.Debug().
		Int("ids", len(ids)).
		Int("chunks", len(chunks)).
		Msg("Starting parallel batch fetch")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan int, len(chunks))
	for i := range chunks {
		queue <- i
	}
	close(queue)

	results := make(chan chunkResult[R], len(chunks))

	var wg sync.WaitGroup
	workers := min(f.config.MaxConcurrency, len(chunks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(ctx, chunks, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([][]R, len(chunks))
	var firstErr error
	for result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch chunk %d/%d: %w", result.index+1, len(chunks), result.err)
				cancel()
			}
			continue
		}
		collected[result.index] = result.records
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("chunks", len(chunks)).
			Msg("Batch fetch failed")
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]R, 0, len(ids))
	for _, chunk := range collected {
		records = append(records, chunk...)
	}

	log.Debug().
		Int("ids", len(ids)).
		Int("records", len(records)).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return records, nil
}

func (f *Fetcher[R]) fetchChunk(ctx context.Context, ids []string) ([]R, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()
	return f.fetch(chunkCtx, ids)
}

// worker processes chunks from the queue
func (f *Fetcher[R]) worker(ctx context.Context, chunks [][]string, queue <-chan int, results chan<- chunkResult[R], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for index := range queue {
		if ctx.Err() != nil {
			log.Debug().
				Int("worker_id", workerID).
				Int("chunks_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		records, err := f.fetchChunk(ctx, chunks[index])
		// results is buffered for every chunk, so this never blocks
		results <- chunkResult[R]{index: index, records: records, err: err}
		if err != nil {
			return
		}
		processed++
	}
}
