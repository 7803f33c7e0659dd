package main

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/svdb-hotmail/domscribr/internal/export"
	"github.com/svdb-hotmail/domscribr/internal/session"
	"github.com/svdb-hotmail/domscribr/internal/store"
)

var exportFlags struct {
	format string
	output string
}

var exportCmd = &cobra.Command{
	Use:   "export <context-id>",
	Short: "Export a persisted session from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		exp, err := export.NewExporter(exportFlags.format)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		// Read-only: no persister, nothing is written back.
		sessions := session.New(db, nil)
		ids, err := sessions.ContextIDs(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(ids, args[0]) {
			return fmt.Errorf("no session for context %q", args[0])
		}
		snap, err := sessions.Snapshot(ctx, args[0])
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportFlags.output != "" {
			path := exportFlags.output
			if path == "." {
				path = export.Filename(snap, exp)
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		}
		return exp.Export(snap, w)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFlags.format, "format", "f", "json", "output format: json, jsonl, yaml, md, txt, html")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", `output file ("." for the suggested name, stdout when empty)`)
	rootCmd.AddCommand(exportCmd)
}
