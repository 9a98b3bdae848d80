// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest drives chunked MEDLINE fetches into the corpus.
//
// The fetch service caps identifiers per request, so the identifier list is
// split into consecutive chunks. Each chunk is fetched and its text merged
// into the corpus in chunk order. Fetches may overlap when Workers > 1, but
// merges are applied one at a time from a single goroutine.
package harvest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pdiddy/medline-harvest/internal/batch"
	"github.com/pdiddy/medline-harvest/internal/corpus"
	"github.com/pdiddy/medline-harvest/pkg/types"
)

// Fetcher retrieves the text for one chunk of identifiers.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) (string, error)
}

// Merger appends text to the corpus.
type Merger interface {
	Merge(text string) (corpus.MergeResult, error)
}

// ChunkOutcome is the result of one chunk.
type ChunkOutcome struct {
	Index  int // zero-based
	Size   int
	Merged bool
	Result corpus.MergeResult
	Err    error // fetch error for a skipped chunk
}

// Result summarizes a harvest run.
type Result struct {
	Chunks   int
	Merged   int
	Skipped  int
	Outcomes []ChunkOutcome
}

// HasFailures reports whether any chunk was skipped.
func (r Result) HasFailures() bool {
	return r.Skipped > 0
}

// Harvester fetches identifier chunks and merges the text into a corpus.
type Harvester struct {
	Fetcher Fetcher
	Corpus  Merger
	Config  types.HarvestConfig

	// OnMerge, when set, is called after each merge in chunk order.
	// An error is reported as a warning and does not stop the run.
	OnMerge func(ctx context.Context, outcome ChunkOutcome, chunks int) error
}

type fetchResult struct {
	text string
	err  error
}

// Run splits ids into chunks of at most Config.ChunkSize, fetches each, and
// merges every fetched text into the corpus in chunk order, printing
// "chunk i of N" after each merge.
//
// A failed fetch (including empty output) is skipped with a warning under
// the skip policy and ends the run with an error under the abort policy.
// A failed merge always ends the run with an error; the corpus keeps the
// content of every earlier merge.
func (h *Harvester) Run(ctx context.Context, ids []string, w io.Writer) (Result, error) {
	cfg := h.config()
	chunks := batch.Split(ids, cfg.ChunkSize)
	result := Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No identifiers to fetch.")
		return result, nil
	}
	if len(chunks) > 1 {
		fmt.Fprintf(w, "%d identifiers exceed the %d-per-request cap; fetching in %d chunks.\n",
			len(ids), cfg.ChunkSize, len(chunks))
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	// A slot is taken before a fetch starts and given back once its chunk
	// has been merged or skipped, so at most Workers chunks are in flight.
	slots := semaphore.NewWeighted(int64(cfg.Workers))
	results := make([]chan fetchResult, len(chunks))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, chunk := range chunks {
			if err := slots.Acquire(runCtx, 1); err != nil {
				for _, ch := range results[i:] {
					ch <- fetchResult{err: err}
				}
				return
			}
			wg.Add(1)
			go func(i int, chunk []string) {
				defer wg.Done()
				text, err := h.Fetcher.Fetch(runCtx, chunk)
				results[i] <- fetchResult{text: text, err: err}
			}(i, chunk)
		}
	}()

	for i, chunk := range chunks {
		fr := <-results[i]
		outcome := ChunkOutcome{Index: i, Size: len(chunk)}

		if fr.err != nil {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			outcome.Err = fr.err
			result.Skipped++
			result.Outcomes = append(result.Outcomes, outcome)
			if cfg.OnFailure == types.FailAbort {
				fmt.Fprintf(w, "error: chunk %d of %d failed: %v\n", i+1, len(chunks), fr.err)
				return result, fmt.Errorf("fetching chunk %d of %d: %w", i+1, len(chunks), fr.err)
			}
			fmt.Fprintf(w, "warning: chunk %d of %d skipped: %v\n", i+1, len(chunks), fr.err)
			slots.Release(1)
			continue
		}

		res, err := h.Corpus.Merge(fr.text)
		if err != nil {
			return result, fmt.Errorf("merging chunk %d of %d: %w", i+1, len(chunks), err)
		}
		outcome.Merged = true
		outcome.Result = res
		result.Merged++
		result.Outcomes = append(result.Outcomes, outcome)
		fmt.Fprintf(w, "Medline records retrieved and saved: chunk %d of %d\n", i+1, len(chunks))

		if h.OnMerge != nil {
			if err := h.OnMerge(ctx, outcome, len(chunks)); err != nil {
				fmt.Fprintf(w, "warning: recording chunk %d of %d: %v\n", i+1, len(chunks), err)
			}
		}
		slots.Release(1)
	}

	fmt.Fprintf(w, "\nHarvest summary: %d of %d chunks merged, %d skipped\n",
		result.Merged, result.Chunks, result.Skipped)
	return result, nil
}

func (h *Harvester) config() types.HarvestConfig {
	cfg := h.Config
	def := types.DefaultPipelineConfig().Harvest
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.OnFailure == "" {
		cfg.OnFailure = def.OnFailure
	}
	return cfg
}
