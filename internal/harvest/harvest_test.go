// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/medline-harvest/internal/corpus"
	"github.com/pdiddy/medline-harvest/pkg/types"
)

// fakeFetcher returns "first..last" for each chunk and records what it saw.
type fakeFetcher struct {
	mu     sync.Mutex
	chunks [][]string
	fail   map[string]error // keyed by the chunk's first identifier
	delay  func(ids []string) time.Duration

	inFlight    int32
	maxInFlight int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, ids []string) (string, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}

	f.mu.Lock()
	f.chunks = append(f.chunks, ids)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(ids)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.fail[ids[0]]; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s..%s", ids[0], ids[len(ids)-1]), nil
}

// memCorpus is an in-memory Merger.
type memCorpus struct {
	merged []string
	err    error
}

func (m *memCorpus) Merge(text string) (corpus.MergeResult, error) {
	if m.err != nil {
		return corpus.MergeResult{}, m.err
	}
	m.merged = append(m.merged, text)
	return corpus.MergeResult{Created: len(m.merged) == 1}, nil
}

func pmids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%d", 30000000+i)
	}
	return out
}

func TestRunChunksAt9000(t *testing.T) {
	ids := pmids(18500)
	f := &fakeFetcher{}
	mc := &memCorpus{}
	h := &Harvester{Fetcher: f, Corpus: mc}

	var out strings.Builder
	res, err := h.Run(context.Background(), ids, &out)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Merged)
	require.Len(t, f.chunks, 3)
	assert.Len(t, f.chunks[0], 9000)
	assert.Len(t, f.chunks[1], 9000)
	assert.Len(t, f.chunks[2], 500)

	var flat []string
	for _, c := range f.chunks {
		flat = append(flat, c...)
	}
	assert.Equal(t, ids, flat, "no identifier omitted or duplicated")

	assert.Equal(t, []string{
		ids[0] + ".." + ids[8999],
		ids[9000] + ".." + ids[17999],
		ids[18000] + ".." + ids[18499],
	}, mc.merged)

	for i := 1; i <= 3; i++ {
		assert.Contains(t, out.String(), fmt.Sprintf("chunk %d of 3", i))
	}
}

func TestRunSingleChunk(t *testing.T) {
	f := &fakeFetcher{}
	mc := &memCorpus{}
	h := &Harvester{Fetcher: f, Corpus: mc, Config: types.HarvestConfig{ChunkSize: 10}}

	res, err := h.Run(context.Background(), pmids(4), &strings.Builder{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Len(t, mc.merged, 1)
}

func TestRunEmpty(t *testing.T) {
	h := &Harvester{Fetcher: &fakeFetcher{}, Corpus: &memCorpus{}}
	res, err := h.Run(context.Background(), nil, &strings.Builder{})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestRunSkipPolicy(t *testing.T) {
	ids := pmids(30)
	f := &fakeFetcher{fail: map[string]error{ids[10]: errors.New("exit status 1")}}
	mc := &memCorpus{}
	h := &Harvester{Fetcher: f, Corpus: mc, Config: types.HarvestConfig{ChunkSize: 10}}

	var out strings.Builder
	res, err := h.Run(context.Background(), ids, &out)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.HasFailures())
	require.Len(t, res.Outcomes, 3)
	assert.False(t, res.Outcomes[1].Merged)
	assert.Error(t, res.Outcomes[1].Err)
	assert.Equal(t, []string{ids[0] + ".." + ids[9], ids[20] + ".." + ids[29]}, mc.merged)
	assert.Contains(t, out.String(), "warning: chunk 2 of 3 skipped")
}

func TestRunAbortPolicy(t *testing.T) {
	ids := pmids(30)
	f := &fakeFetcher{fail: map[string]error{ids[10]: errors.New("exit status 1")}}
	mc := &memCorpus{}
	h := &Harvester{Fetcher: f, Corpus: mc, Config: types.HarvestConfig{ChunkSize: 10, OnFailure: types.FailAbort}}

	res, err := h.Run(context.Background(), ids, &strings.Builder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2 of 3")
	assert.Equal(t, 1, res.Merged)
	assert.Len(t, mc.merged, 1, "chunks after the failure are not merged")
}

func TestRunMergeFailureAborts(t *testing.T) {
	mc := &memCorpus{err: corpus.ErrVerify}
	h := &Harvester{Fetcher: &fakeFetcher{}, Corpus: mc, Config: types.HarvestConfig{ChunkSize: 5}}

	_, err := h.Run(context.Background(), pmids(12), &strings.Builder{})
	assert.ErrorIs(t, err, corpus.ErrVerify)
}

func TestRunParallelFetchMergesInOrder(t *testing.T) {
	ids := pmids(40)
	// Later chunks finish first.
	f := &fakeFetcher{delay: func(c []string) time.Duration {
		if c[0] == ids[0] {
			return 60 * time.Millisecond
		}
		return time.Millisecond
	}}
	mc := &memCorpus{}
	h := &Harvester{Fetcher: f, Corpus: mc, Config: types.HarvestConfig{ChunkSize: 10, Workers: 3}}

	res, err := h.Run(context.Background(), ids, &strings.Builder{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Merged)
	assert.Equal(t, []string{
		ids[0] + ".." + ids[9],
		ids[10] + ".." + ids[19],
		ids[20] + ".." + ids[29],
		ids[30] + ".." + ids[39],
	}, mc.merged)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.maxInFlight), int32(3))
	assert.Greater(t, atomic.LoadInt32(&f.maxInFlight), int32(1))
}

func TestRunSequentialByDefault(t *testing.T) {
	f := &fakeFetcher{delay: func([]string) time.Duration { return time.Millisecond }}
	h := &Harvester{Fetcher: f, Corpus: &memCorpus{}, Config: types.HarvestConfig{ChunkSize: 2}}

	_, err := h.Run(context.Background(), pmids(10), &strings.Builder{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.maxInFlight))
}

func TestRunOnMergeHook(t *testing.T) {
	var seen []int
	h := &Harvester{
		Fetcher: &fakeFetcher{},
		Corpus:  &memCorpus{},
		Config:  types.HarvestConfig{ChunkSize: 3},
		OnMerge: func(_ context.Context, o ChunkOutcome, chunks int) error {
			assert.Equal(t, 3, chunks)
			seen = append(seen, o.Index)
			if o.Index == 1 {
				return errors.New("database is locked")
			}
			return nil
		},
	}

	var out strings.Builder
	_, err := h.Run(context.Background(), pmids(9), &out)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Contains(t, out.String(), "warning: recording chunk 2 of 3")
}

func TestRunContextCancelled(t *testing.T) {
	f := &fakeFetcher{delay: func([]string) time.Duration { return time.Second }}
	h := &Harvester{Fetcher: f, Corpus: &memCorpus{}, Config: types.HarvestConfig{ChunkSize: 2}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Run(ctx, pmids(6), &strings.Builder{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunIntoCorpusStore(t *testing.T) {
	store, err := corpus.Open(types.CorpusConfig{Dir: filepath.Join(t.TempDir(), "txts")})
	require.NoError(t, err)

	ids := pmids(5)
	h := &Harvester{Fetcher: &fakeFetcher{}, Corpus: store, Config: types.HarvestConfig{ChunkSize: 2}}
	_, err = h.Run(context.Background(), ids, &strings.Builder{})
	require.NoError(t, err)

	text, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		ids[0] + ".." + ids[1],
		ids[2] + ".." + ids[3],
		ids[4] + ".." + ids[4],
	}, corpus.Separator), text)
}
