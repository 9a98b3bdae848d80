// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package idconv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/medline-harvest/pkg/types"
)

// fakeConverter mimics the PMC ID converter. Identifiers in known get the
// mapped record back, identifiers in unrecognized get a status "error"
// record, anything else is omitted from the response.
type fakeConverter struct {
	mu           sync.Mutex
	requests     []url.Values
	known        map[string]map[string]any
	unrecognized map[string]bool

	// failures is the number of leading requests answered with HTTP 500.
	// A negative value fails every request.
	failures int
	// malformed answers the leading failures with an unparseable body
	// instead of an error status.
	malformed bool
}

func (f *fakeConverter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Query())
	n := len(f.requests)
	f.mu.Unlock()

	if f.failures < 0 || n <= f.failures {
		if f.malformed {
			w.Write([]byte(`{"records": [{"pmid": `))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var recs []map[string]any
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		switch {
		case f.unrecognized[id]:
			recs = append(recs, map[string]any{"requested-id": id, "status": "error", "errmsg": "invalid article id"})
		case f.known[id] != nil:
			recs = append(recs, f.known[id])
		}
	}
	if recs == nil {
		recs = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "records": recs})
}

func (f *fakeConverter) batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, q := range f.requests {
		out = append(out, strings.Split(q.Get("ids"), ","))
	}
	return out
}

func newTestResolver(t *testing.T, fc *fakeConverter) *Resolver {
	t.Helper()
	ts := httptest.NewServer(fc)
	t.Cleanup(ts.Close)
	return New(ts.Client(), types.ResolverConfig{
		BaseURL: ts.URL + "/idconv/",
		Email:   "curator@example.org",
	})
}

func rec(pos int, pmid, doi, pmcid string) *types.Record {
	return &types.Record{
		Position: pos,
		PMID:     types.ValueOf(pmid),
		DOI:      types.ValueOf(doi),
		PMCID:    types.ValueOf(pmcid),
	}
}

func TestResolveScenario(t *testing.T) {
	fc := &fakeConverter{
		known: map[string]map[string]any{
			"1": {"pmid": 1, "doi": "10.9/one", "pmcid": "PMC100"},
		},
		unrecognized: map[string]bool{"10.1/x": true},
	}
	r := newTestResolver(t, fc)

	records := []*types.Record{
		rec(0, "1", "", ""),
		rec(1, "", "10.1/x", ""),
		rec(2, "", "", "PMC1"),
	}

	var out strings.Builder
	summary, err := r.Resolve(context.Background(), records, &out)
	require.NoError(t, err)

	assert.Equal(t, "1", records[0].PMID.String())
	assert.Equal(t, "10.9/one", records[0].DOI.String())
	assert.Equal(t, "PMC100", records[0].PMCID.String())

	assert.Equal(t, *rec(1, "", "10.1/x", ""), *records[1])
	assert.Equal(t, *rec(2, "", "", "PMC1"), *records[2])

	for i, r := range records {
		assert.Equal(t, i, r.Position, "order preserved")
	}

	assert.Len(t, summary.Batches, 3)
	assert.False(t, summary.HasFailures())
	assert.Equal(t, 0, summary.Unresolved[types.IDPMID])
	assert.Equal(t, 1, summary.Unresolved[types.IDDOI])
	assert.Equal(t, 1, summary.Unresolved[types.IDPMCID])
	assert.Equal(t, 2, summary.Missing[types.IDPMID])
	assert.Contains(t, out.String(), "1 PMIDs, 1 DOIs, 1 PMCIDs")
}

func TestResolveNeverOverwritesKnownFields(t *testing.T) {
	fc := &fakeConverter{
		known: map[string]map[string]any{
			"42": {"pmid": "42", "doi": "10.5/service", "pmcid": "PMC42"},
		},
	}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "42", "10.5/local", "")}
	_, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	assert.Equal(t, "10.5/local", records[0].DOI.String(), "known DOI is authoritative")
	assert.Equal(t, "PMC42", records[0].PMCID.String(), "unknown PMCID is filled")
}

func TestResolveStoresExtraFields(t *testing.T) {
	fc := &fakeConverter{
		known: map[string]map[string]any{
			"PMC7": {"pmcid": "PMC7", "pmid": "7", "live": true, "release-date": "2020-01-01", "versions": []string{"v1"}},
		},
	}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "", "", "PMC7")}
	_, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	assert.Equal(t, "7", records[0].PMID.String())
	assert.Equal(t, "true", records[0].Field("live").String())
	assert.Equal(t, "2020-01-01", records[0].Field("release-date").String())
	assert.False(t, records[0].Field("versions").IsKnown(), "arrays are not stored")
}

func TestResolveDropsEnvelopeFields(t *testing.T) {
	fc := &fakeConverter{
		known: map[string]map[string]any{
			"10.2/y": {"requested-id": "10.2/y", "status": "ok", "doi": "10.2/y", "pmid": "88", "pmcid": "PMC88"},
		},
	}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "", "10.2/y", "")}
	_, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	assert.Equal(t, "88", records[0].PMID.String())
	assert.Equal(t, "PMC88", records[0].PMCID.String())
	assert.Empty(t, records[0].Extra, "lookup bookkeeping is not an article field")
}

func TestResolveDOICaseInsensitiveMatch(t *testing.T) {
	fc := &fakeConverter{
		known: map[string]map[string]any{
			"10.1000/ABC": {"doi": "10.1000/abc", "pmid": "555"},
		},
	}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "", "10.1000/ABC", "")}
	_, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	assert.Equal(t, "555", records[0].PMID.String())
	assert.Equal(t, "10.1000/ABC", records[0].DOI.String())
}

func TestResolveBatchSizeInvariant(t *testing.T) {
	tests := []struct {
		name        string
		n           int
		wantBatches []int
	}{
		{"under one batch", 150, []int{150}},
		{"exactly one batch", 200, []int{200}},
		{"several batches", 450, []int{200, 200, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeConverter{}
			r := newTestResolver(t, fc)

			var records []*types.Record
			for i := 0; i < tt.n; i++ {
				records = append(records, rec(i, fmt.Sprintf("%d", 1000+i), "", ""))
			}

			summary, err := r.Resolve(context.Background(), records, &strings.Builder{})
			require.NoError(t, err)

			batches := fc.batches()
			var sizes []int
			seen := make(map[string]int)
			for _, b := range batches {
				sizes = append(sizes, len(b))
				for _, id := range b {
					seen[id]++
				}
			}
			assert.Equal(t, tt.wantBatches, sizes)
			assert.Len(t, seen, tt.n)
			for id, count := range seen {
				assert.Equal(t, 1, count, "identifier %s sent more than once", id)
			}
			assert.Equal(t, tt.n, summary.Unresolved[types.IDPMID])
		})
	}
}

func TestResolveRetryBound(t *testing.T) {
	fc := &fakeConverter{failures: -1}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "1", "", ""), rec(1, "2", "", "")}
	var out strings.Builder
	summary, err := r.Resolve(context.Background(), records, &out)
	require.NoError(t, err, "batch failures are not run failures")

	assert.Len(t, fc.batches(), 3)
	require.Len(t, summary.Batches, 1)
	assert.True(t, summary.Batches[0].Failed())
	assert.Equal(t, 3, summary.Batches[0].Attempts)
	assert.Equal(t, 2, summary.Unresolved[types.IDPMID])
	assert.False(t, records[0].DOI.IsKnown())
	assert.Contains(t, out.String(), "abandoned after 3 attempt(s)")
}

func TestResolveRetriesMalformedBody(t *testing.T) {
	fc := &fakeConverter{
		failures:  2,
		malformed: true,
		known:     map[string]map[string]any{"9": {"pmid": "9", "doi": "10.9/nine"}},
	}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "9", "", "")}
	summary, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Batches[0].Attempts)
	assert.False(t, summary.HasFailures())
	assert.Equal(t, "10.9/nine", records[0].DOI.String())
}

func TestResolveRequestParameters(t *testing.T) {
	fc := &fakeConverter{}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "11", "", ""), rec(1, "12", "", "")}
	_, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	require.Len(t, fc.requests, 1)
	q := fc.requests[0]
	assert.Equal(t, "11,12", q.Get("ids"))
	assert.Equal(t, "genepopi_search_developer", q.Get("tool"))
	assert.Equal(t, "no", q.Get("versions"))
	assert.Equal(t, "json", q.Get("format"))
	assert.Equal(t, "curator@example.org", q.Get("email"))
}

func TestResolveNoIdentifiers(t *testing.T) {
	fc := &fakeConverter{}
	r := newTestResolver(t, fc)

	records := []*types.Record{{Position: 0}, {Position: 1}}
	_, err := r.Resolve(context.Background(), records, &strings.Builder{})
	assert.ErrorIs(t, err, ErrNoIdentifiers)
	assert.Empty(t, fc.requests)
}

func TestResolveMissingEmail(t *testing.T) {
	r := New(http.DefaultClient, types.ResolverConfig{})
	_, err := r.Resolve(context.Background(), []*types.Record{rec(0, "1", "", "")}, &strings.Builder{})
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestResolveRejectsRecordsWithoutIdentifiers(t *testing.T) {
	fc := &fakeConverter{known: map[string]map[string]any{"5": {"pmid": "5", "pmcid": "PMC5"}}}
	r := newTestResolver(t, fc)

	records := []*types.Record{rec(0, "5", "", ""), {Position: 1}, nil}
	summary, err := r.Resolve(context.Background(), records, &strings.Builder{})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, summary.Rejected)
	assert.Equal(t, "PMC5", records[0].PMCID.String())
	assert.Equal(t, types.Record{Position: 1}, *records[1])
}

func TestResolveContextCancelled(t *testing.T) {
	fc := &fakeConverter{}
	r := newTestResolver(t, fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, []*types.Record{rec(0, "1", "", "")}, &strings.Builder{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fc.requests)
}

func TestPartition(t *testing.T) {
	records := []*types.Record{
		rec(0, "1", "10.1/a", "PMC1"),
		rec(1, "", "10.1/b", "PMC2"),
		rec(2, "", "", "PMC3"),
		rec(3, "4", "", ""),
		{Position: 4},
		rec(5, "1", "", ""),
	}

	groups, rejected := partition(records)
	require.Len(t, groups, 3)

	assert.Equal(t, types.IDPMID, groups[0].idType)
	assert.Equal(t, []string{"1", "4"}, groups[0].ids)
	assert.Equal(t, []int{0, 5}, groups[0].byID["1"], "duplicate identifiers share one lookup")
	assert.Equal(t, []string{"10.1/b"}, groups[1].ids)
	assert.Equal(t, []string{"PMC3"}, groups[2].ids)
	assert.Equal(t, []int{4}, rejected)

	count := make(map[int]int)
	for _, g := range groups {
		for _, idx := range g.byID {
			for _, i := range idx {
				count[i]++
			}
		}
	}
	for i, c := range count {
		assert.Equal(t, 1, c, "record %d classified more than once", i)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []map[string]string
		wantErr bool
	}{
		{
			name: "numbers and strings",
			body: `{"status":"ok","records":[{"pmid":123,"doi":"10.1/a","live":false,"versions":[{"pmcid":"PMC1.1"}],"mid":null}]}`,
			want: []map[string]string{{"pmid": "123", "doi": "10.1/a", "live": "false"}},
		},
		{
			name: "empty records",
			body: `{"status":"ok","records":[]}`,
			want: []map[string]string{},
		},
		{
			name:    "missing records",
			body:    `{"status":"error","message":"invalid email"}`,
			wantErr: true,
		},
		{
			name:    "truncated",
			body:    `{"records":[`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeResponse(strings.NewReader(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
