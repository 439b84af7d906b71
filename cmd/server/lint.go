package main

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kalitaforms/internal/api"
	"kalitaforms/internal/pg"
)

func newLintCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "lint",
		Short: "Checks DSL, layouts, enums and display fields for contradictions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			cat, err := api.LoadCatalog(catalogPaths(cfg))
			if err != nil {
				return err
			}
			issues := api.LintCatalog(cat)
			out := cmd.OutOrStdout()
			for _, is := range issues {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", is.Table, is.Field, is.Code, is.Message)
			}
			if len(issues) > 0 {
				return errors.Errorf("%d schema issue(s)", len(issues))
			}
			fmt.Fprintf(out, "ok: %d tables\n", len(cat.Schemas))
			return nil
		},
	}
	return &cmd
}

func newMigrateCmd() *cobra.Command {
	var dryRun bool
	cmd := cobra.Command{
		Use:   "migrate",
		Short: "Creates missing Postgres schemas, tables and foreign keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			cat, err := api.LoadCatalog(catalogPaths(cfg))
			if err != nil {
				return err
			}
			if dryRun {
				ddl, err := pg.GenerateDDL(cat.Schemas)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(ddl))
				for k := range ddl {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "-- %s\n%s\n", k, ddl[k])
				}
				return nil
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return pg.Migrate(cmd.Context(), db, cat.Schemas, log)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print DDL instead of applying it")
	return &cmd
}
