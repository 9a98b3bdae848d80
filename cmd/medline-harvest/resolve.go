// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/medline-harvest/internal/catalog"
	"github.com/pdiddy/medline-harvest/internal/idconv"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Fill in missing PMID, DOI, and PMCID values via the ID converter",
	Long: `Resolve reads every record from the catalog, queries the NCBI PMC ID
converter in batches (PMIDs first, then DOIs, then PMCIDs), and writes back
any identifier that was previously unknown. Known values are never
overwritten and record order is kept.

The converter requires a contact address: pass --email, set resolver.email
in the config file, or store it in .secrets/ncbi-email.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("email", "", "contact address sent to the ID converter")
	resolveCmd.Flags().String("base-url", "", "ID converter endpoint")
	resolveCmd.Flags().Int("batch-size", 0, "identifiers per request (default 200)")
	resolveCmd.Flags().Int("max-attempts", 0, "attempts per batch (default 3)")
	resolveCmd.Flags().Duration("retry-delay", 0, "pause between attempts (default none)")
	resolveCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")
	resolveCmd.Flags().String("export", "", "also write the resolved records to this YAML file")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig(cmd)
	if err != nil {
		return err
	}
	rc := cfg.Resolver
	rc.Email = stringFlag(cmd, "email", rc.Email)
	rc.BaseURL = stringFlag(cmd, "base-url", rc.BaseURL)
	rc.BatchSize = intFlag(cmd, "batch-size", rc.BatchSize)
	rc.MaxAttempts = intFlag(cmd, "max-attempts", rc.MaxAttempts)
	rc.RetryDelay = durationFlag(cmd, "retry-delay", rc.RetryDelay)
	rc.Timeout = durationFlag(cmd, "timeout", rc.Timeout)

	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	recs, err := store.Records(ctx)
	if err != nil {
		return err
	}

	resolver := idconv.New(&http.Client{Timeout: rc.Timeout}, rc)
	summary, err := resolver.Resolve(ctx, recs, os.Stdout)
	if err != nil {
		return err
	}

	if err := store.SaveRecords(ctx, recs); err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("export"); path != "" {
		if err := catalog.WriteFile(path, recs); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Wrote resolved records to %s\n", path)
	}

	if summary.HasFailures() {
		return fmt.Errorf("%d batch(es) failed resolution", summary.FailedBatches())
	}
	return nil
}
