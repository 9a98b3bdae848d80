// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package idconv backfills missing PMIDs, DOIs, and PMCIDs on a record set
// using the PMC ID converter service.
//
// Records are partitioned by their preferred known identifier (PMID, then
// DOI, then PMCID). Each partition is sent to the service in batches of at
// most 200 identifiers; every returned field fills the matching record only
// where that field is still unknown. A batch that keeps failing is given up
// after its attempt budget and reported in the Summary rather than aborting
// the run.
package idconv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/medline-harvest/internal/batch"
	"github.com/pdiddy/medline-harvest/internal/httputil"
	"github.com/pdiddy/medline-harvest/pkg/types"
)

var (
	// ErrNoIdentifiers means no record carries any identifier, which
	// usually indicates the ingestion step produced nothing usable.
	ErrNoIdentifiers = errors.New("no record carries a PMID, DOI, or PMCID")

	// ErrMissingEmail means no contact address was configured.
	ErrMissingEmail = errors.New("the ID converter requires a contact email")
)

// BatchOutcome is the result of one request to the service.
type BatchOutcome struct {
	Type  types.IDType
	Index int // zero-based batch number within Type
	Size  int

	// Attempts is the number of requests made for this batch.
	Attempts int

	// Resolved counts returned records that matched a local record.
	Resolved int

	// Unrecognized counts returned records with status "error".
	Unrecognized int

	// Err is the last failure when every attempt failed; nil otherwise.
	Err error
}

// Failed reports whether the batch was abandoned.
func (o BatchOutcome) Failed() bool { return o.Err != nil }

// Summary aggregates a resolution run.
type Summary struct {
	// Requested is the number of distinct identifiers sent per type.
	Requested map[types.IDType]int

	Batches []BatchOutcome

	// Unresolved counts, per classification type, records that received
	// no data: their batch failed, or the service did not recognize or
	// did not return their identifier.
	Unresolved map[types.IDType]int

	// Missing counts records whose identifier field is still unknown
	// after the run.
	Missing map[types.IDType]int

	// Rejected holds the positions of records without any identifier.
	// They are left untouched.
	Rejected []int
}

func newSummary() Summary {
	return Summary{
		Requested:  make(map[types.IDType]int),
		Unresolved: make(map[types.IDType]int),
		Missing:    make(map[types.IDType]int),
	}
}

// FailedBatches returns the number of abandoned batches.
func (s Summary) FailedBatches() int {
	n := 0
	for _, b := range s.Batches {
		if b.Failed() {
			n++
		}
	}
	return n
}

// HasFailures reports whether any batch was abandoned.
func (s Summary) HasFailures() bool {
	return s.FailedBatches() > 0
}

// Report writes a per-type account of the run.
func (s Summary) Report(w io.Writer) {
	fmt.Fprintf(w, "\nResolution summary: %d batches, %d failed\n", len(s.Batches), s.FailedBatches())
	for _, t := range types.IDTypes {
		fmt.Fprintf(w, "  %-5s  requested %d, unresolved %d, still missing %d\n",
			t, s.Requested[t], s.Unresolved[t], s.Missing[t])
	}
	if len(s.Rejected) > 0 {
		fmt.Fprintf(w, "  %d record(s) without any identifier were skipped\n", len(s.Rejected))
	}
}

// Resolver queries the ID converter.
type Resolver struct {
	client *http.Client
	cfg    types.ResolverConfig
}

// New returns a Resolver. Zero-valued settings in cfg fall back to the
// defaults from types.DefaultPipelineConfig.
func New(client *http.Client, cfg types.ResolverConfig) *Resolver {
	def := types.DefaultPipelineConfig().Resolver
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Tool == "" {
		cfg.Tool = def.Tool
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: def.Timeout}
	}
	return &Resolver{client: client, cfg: cfg}
}

// Resolve backfills identifier fields of records in place. The slice is
// never reordered. It returns ErrNoIdentifiers when no record has any
// identifier; batch failures are reported in the Summary, not as an error.
// A cancelled ctx stops the run between batches and returns ctx.Err()
// with the partial summary.
func (r *Resolver) Resolve(ctx context.Context, records []*types.Record, w io.Writer) (Summary, error) {
	summary := newSummary()
	if r.cfg.Email == "" {
		return summary, ErrMissingEmail
	}

	groups, rejected := partition(records)
	summary.Rejected = rejected

	fmt.Fprintf(w, "Running the NCBI ID converter: %d PMIDs, %d DOIs, %d PMCIDs\n",
		len(groups[0].ids), len(groups[1].ids), len(groups[2].ids))
	if len(groups[0].ids)+len(groups[1].ids)+len(groups[2].ids) == 0 {
		return summary, ErrNoIdentifiers
	}
	if len(rejected) > 0 {
		fmt.Fprintf(w, "warning: %d record(s) carry no identifier and are skipped\n", len(rejected))
	}

	for _, g := range groups {
		summary.Requested[g.idType] = len(g.ids)
		if len(g.ids) == 0 {
			continue
		}
		fmt.Fprintf(w, "Working on the %s list...\n", g.idType)

		batches := batch.Split(g.ids, r.cfg.BatchSize)
		for i, ids := range batches {
			if err := ctx.Err(); err != nil {
				summary.tally(records, groups)
				return summary, err
			}

			outcome := r.resolveBatch(ctx, records, g, i, ids)
			summary.Batches = append(summary.Batches, outcome)

			if outcome.Failed() {
				fmt.Fprintf(w, "warning: %s batch %d/%d abandoned after %d attempt(s): %v\n",
					g.idType, i+1, len(batches), outcome.Attempts, outcome.Err)
				continue
			}
			fmt.Fprintf(w, "  %s batch %d/%d: %d resolved, %d unrecognized\n",
				g.idType, i+1, len(batches), outcome.Resolved, outcome.Unrecognized)
		}
	}

	summary.tally(records, groups)
	summary.Report(w)
	return summary, nil
}

func (s *Summary) tally(records []*types.Record, groups []*group) {
	for _, g := range groups {
		s.Unresolved[g.idType] = g.unresolved()
	}
	for _, t := range types.IDTypes {
		n := 0
		for _, rec := range records {
			if rec != nil && !rec.ID(t).IsKnown() {
				n++
			}
		}
		s.Missing[t] = n
	}
}

func (r *Resolver) resolveBatch(ctx context.Context, records []*types.Record, g *group, index int, ids []string) BatchOutcome {
	outcome := BatchOutcome{Type: g.idType, Index: index, Size: len(ids)}

	req, err := r.newRequest(ctx, ids)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	var returned []map[string]string
	policy := httputil.Policy{MaxAttempts: r.cfg.MaxAttempts, Delay: r.cfg.RetryDelay}
	outcome.Attempts, outcome.Err = httputil.DoWithRetry(ctx, r.client, req, policy, func(resp *http.Response) error {
		recs, err := decodeResponse(resp.Body)
		if err != nil {
			return err
		}
		returned = recs
		return nil
	})
	if outcome.Err != nil {
		return outcome
	}

	outcome.Resolved, outcome.Unrecognized = g.apply(records, returned)
	return outcome
}
