// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/medline-harvest/pkg/types"
)

// ReadFile reads a YAML list of records. Positions are assigned in file
// order; any position in the file is ignored.
func ReadFile(path string) ([]*types.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []*types.Record
	if err := yaml.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	out := recs[:0]
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		rec.Position = len(out)
		out = append(out, rec)
	}
	return out, nil
}

// WriteFile writes recs as a YAML list, creating the parent directory.
func WriteFile(path string, recs []*types.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	data, err := yaml.Marshal(recs)
	if err != nil {
		return fmt.Errorf("marshaling records: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportYAML writes every catalog record to path.
func (s *Store) ExportYAML(ctx context.Context, path string) error {
	recs, err := s.Records(ctx)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []*types.Record{}
	}
	return WriteFile(path, recs)
}
