// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package idconv

import (
	"strings"

	"github.com/pdiddy/medline-harvest/pkg/types"
)

// group is one resolution pass: the distinct identifiers of a single type
// and an index from identifier to the records classified under it. The
// index is built once and only read afterwards.
type group struct {
	idType types.IDType
	ids    []string

	// byID maps an identifier to slice indices of its records.
	byID map[string][]int
	// byFolded is the same index keyed by lower-cased identifier, used
	// when the service echoes an identifier in a different case.
	byFolded map[string][]int

	// resolved marks slice indices that received data from the service.
	resolved map[int]bool
}

func newGroup(t types.IDType) *group {
	return &group{
		idType:   t,
		byID:     make(map[string][]int),
		byFolded: make(map[string][]int),
		resolved: make(map[int]bool),
	}
}

func (g *group) add(id string, i int) {
	if _, seen := g.byID[id]; !seen {
		g.ids = append(g.ids, id)
	}
	g.byID[id] = append(g.byID[id], i)
	folded := strings.ToLower(id)
	g.byFolded[folded] = append(g.byFolded[folded], i)
}

// lookup returns the records for the first key that matches exactly,
// falling back to a case-insensitive match.
func (g *group) lookup(keys ...string) []int {
	for _, k := range keys {
		if idx, ok := g.byID[k]; ok && k != "" {
			return idx
		}
	}
	for _, k := range keys {
		if idx, ok := g.byFolded[strings.ToLower(k)]; ok && k != "" {
			return idx
		}
	}
	return nil
}

// unresolved counts records in the group that received no data.
func (g *group) unresolved() int {
	n := 0
	for _, idx := range g.byID {
		for _, i := range idx {
			if !g.resolved[i] {
				n++
			}
		}
	}
	return n
}

// envelopeKeys are per-result bookkeeping fields of the converter
// response; they describe the lookup, not the article.
var envelopeKeys = map[string]bool{
	"requested-id": true,
	"status":       true,
	"errmsg":       true,
}

// apply backfills records from the service's per-identifier results and
// returns how many results matched a record and how many were flagged as
// unrecognized.
func (g *group) apply(records []*types.Record, returned []map[string]string) (resolved, unrecognized int) {
	for _, fields := range returned {
		if fields["status"] == "error" {
			unrecognized++
			continue
		}
		idx := g.lookup(fields[string(g.idType)], fields["requested-id"])
		if len(idx) == 0 {
			continue
		}
		for _, i := range idx {
			for name, value := range fields {
				if envelopeKeys[name] {
					continue
				}
				records[i].Fill(name, value)
			}
			g.resolved[i] = true
		}
		resolved++
	}
	return resolved, unrecognized
}

// partition classifies each record by its preferred known identifier and
// returns one group per type in preference order. Records without any
// identifier are returned by position in rejected. Nil entries are ignored.
func partition(records []*types.Record) (groups []*group, rejected []int) {
	byType := make(map[types.IDType]*group, len(types.IDTypes))
	for _, t := range types.IDTypes {
		g := newGroup(t)
		byType[t] = g
		groups = append(groups, g)
	}

	for i, rec := range records {
		if rec == nil {
			continue
		}
		t, id, ok := rec.Classify()
		if !ok {
			rejected = append(rejected, rec.Position)
			continue
		}
		byType[t].add(id, i)
	}
	return groups, rejected
}
