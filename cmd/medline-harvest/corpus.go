// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/medline-harvest/internal/catalog"
	"github.com/pdiddy/medline-harvest/internal/corpus"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Inspect the compressed MEDLINE corpus",
}

var corpusVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the corpus archive layout and checksum",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPipelineConfig(cmd)
		if err != nil {
			return err
		}
		acc, err := corpus.Open(cfg.Corpus)
		if err != nil {
			return err
		}
		if !acc.Exists() {
			return fmt.Errorf("no corpus at %s", acc.Path())
		}
		if err := acc.Verify(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: ok\n", acc.Path())
		return nil
	},
}

var corpusCatCmd = &cobra.Command{
	Use:   "cat",
	Short: "Write the decoded corpus text to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPipelineConfig(cmd)
		if err != nil {
			return err
		}
		acc, err := corpus.Open(cfg.Corpus)
		if err != nil {
			return err
		}
		text, err := acc.Read()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, text)
		return err
	},
}

var corpusHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded corpus merges",
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

		entries, err := store.Merges(context.Background())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "No merges recorded.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(os.Stdout, "%s  chunk %d of %d  %d ids  %d -> %d bytes  %s\n",
				e.MergedAt.Format("2006-01-02 15:04:05"), e.Chunk, e.Chunks,
				e.Identifiers, e.BytesBefore, e.BytesAfter, e.Archive)
		}
		return nil
	},
}

func init() {
	corpusCmd.AddCommand(corpusVerifyCmd)
	corpusCmd.AddCommand(corpusCatCmd)
	corpusCmd.AddCommand(corpusHistoryCmd)

	rootCmd.AddCommand(corpusCmd)
}
