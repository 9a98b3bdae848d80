// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/medline-harvest/internal/catalog"
	"github.com/pdiddy/medline-harvest/pkg/types"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the record catalog (import, export, list)",
	Long: `Records manages the local SQLite catalog of literature records. Each
record carries a PMID, DOI, and PMCID, any of which may be unknown, plus
arbitrary extra fields that are carried through unchanged.`,
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Replace the catalog with records from a YAML file",
	Long: `Import reads a YAML list of records ({pmid, doi, pmcid, extra}) and
replaces the catalog contents with them. Record order in the file is kept.
Missing or null values are stored as unknown.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecordsImport,
}

func runRecordsImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig(cmd)
	if err != nil {
		return err
	}

	recs, err := catalog.ReadFile(args[0])
	if err != nil {
		return err
	}

	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ImportRecords(context.Background(), recs); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Imported %d record(s) into %s\n", len(recs), store.Path())
	return nil
}

var recordsExportCmd = &cobra.Command{
	Use:   "export <file.yaml>",
	Short: "Write the catalog to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPipelineConfig(cmd)
		if err != nil {
			return err
		}
		store, err := catalog.Open(cfg.Catalog)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ExportYAML(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Exported catalog to %s\n", args[0])
		return nil
	},
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the catalog as a table",
	RunE:  runRecordsList,
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig(cmd)
	if err != nil {
		return err
	}
	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.Records(context.Background())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stdout, "Catalog is empty.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-6s  %-10s  %-36s  %s\n", "Pos", "PMID", "DOI", "PMCID")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 70))
	for _, r := range recs {
		fmt.Fprintf(os.Stdout, "%-6d  %-10s  %-36s  %s\n",
			r.Position, display(r.PMID), display(r.DOI), display(r.PMCID))
	}
	return nil
}

// display renders unknown values as a dash.
func display(v types.Value) string {
	if s, ok := v.Get(); ok {
		return s
	}
	return "-"
}

func init() {
	recordsCmd.AddCommand(recordsImportCmd)
	recordsCmd.AddCommand(recordsExportCmd)
	recordsCmd.AddCommand(recordsListCmd)

	rootCmd.AddCommand(recordsCmd)
}
