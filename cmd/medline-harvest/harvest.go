// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/medline-harvest/internal/catalog"
	"github.com/pdiddy/medline-harvest/internal/corpus"
	"github.com/pdiddy/medline-harvest/internal/edirect"
	"github.com/pdiddy/medline-harvest/internal/harvest"
	"github.com/pdiddy/medline-harvest/pkg/types"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest [pmids...]",
	Short: "Fetch MEDLINE text for PMIDs and merge it into the corpus",
	Long: `Harvest fetches MEDLINE records with the EDirect tools (esearch | efetch)
in chunks of at most 9000 identifiers and appends each chunk's text to the
compressed corpus archive. Existing corpus content is never rewritten.

Identifiers come from the arguments, from --ids-file (one per line), or,
when neither is given, from every known PMID in the catalog.`,
	RunE: runHarvest,
}

func init() {
	harvestCmd.Flags().String("ids-file", "", "file with one identifier per line")
	harvestCmd.Flags().Int("chunk-size", 0, "identifiers per fetch (default 9000)")
	harvestCmd.Flags().Int("workers", 0, "concurrent fetches (default 1)")
	harvestCmd.Flags().String("on-failure", "", "failed chunk policy: skip or abort (default skip)")
	harvestCmd.Flags().String("corpus-dir", "", "directory holding the corpus archive")
	harvestCmd.Flags().String("edirect-dir", "", "EDirect installation directory")
	harvestCmd.Flags().String("install-script", "", "installer run when the EDirect tools are missing")
	harvestCmd.Flags().String("api-key", "", "NCBI API key (default from .secrets/ncbi-api-key)")

	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Harvest.ChunkSize = intFlag(cmd, "chunk-size", cfg.Harvest.ChunkSize)
	cfg.Harvest.Workers = intFlag(cmd, "workers", cfg.Harvest.Workers)
	cfg.Harvest.OnFailure = types.FailurePolicy(stringFlag(cmd, "on-failure", string(cfg.Harvest.OnFailure)))
	cfg.Corpus.Dir = stringFlag(cmd, "corpus-dir", cfg.Corpus.Dir)
	cfg.Fetch.Dir = stringFlag(cmd, "edirect-dir", cfg.Fetch.Dir)
	cfg.Fetch.InstallScript = stringFlag(cmd, "install-script", cfg.Fetch.InstallScript)
	cfg.Fetch.APIKey = stringFlag(cmd, "api-key", cfg.Fetch.APIKey)

	switch cfg.Harvest.OnFailure {
	case types.FailSkip, types.FailAbort:
	default:
		return fmt.Errorf("unknown failure policy %q (want skip or abort)", cfg.Harvest.OnFailure)
	}

	ctx := context.Background()

	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := harvestIDs(ctx, cmd, args, store)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no PMIDs to harvest: pass identifiers, --ids-file, or resolve the catalog first")
	}

	acc, err := corpus.Open(cfg.Corpus)
	if err != nil {
		return err
	}

	tools := edirect.New(cfg.Fetch)
	if err := tools.EnsureReady(ctx, cfg.Fetch.APIKey); err != nil {
		return err
	}

	h := &harvest.Harvester{
		Fetcher: tools,
		Corpus:  acc,
		Config:  cfg.Harvest,
		OnMerge: func(ctx context.Context, o harvest.ChunkOutcome, chunks int) error {
			return store.RecordMerge(ctx, catalog.MergeEntry{
				Archive:     acc.Path(),
				Chunk:       o.Index + 1,
				Chunks:      chunks,
				Identifiers: o.Size,
				BytesBefore: o.Result.Before,
				BytesAfter:  o.Result.After,
			})
		},
	}

	result, err := h.Run(ctx, ids, os.Stdout)
	if err != nil {
		return err
	}
	if result.HasFailures() {
		return fmt.Errorf("%d chunk(s) failed to fetch", result.Skipped)
	}
	return nil
}

// harvestIDs picks the identifier source: arguments, then --ids-file, then
// the catalog's known PMIDs.
func harvestIDs(ctx context.Context, cmd *cobra.Command, args []string, store *catalog.Store) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if path, _ := cmd.Flags().GetString("ids-file"); path != "" {
		return readIDsFile(path)
	}
	return store.KnownIDs(ctx, types.IDPMID)
}

// readIDsFile reads one identifier per line, ignoring blank lines and
// lines starting with #.
func readIDsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ids, nil
}
