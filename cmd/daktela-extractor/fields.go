package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/daktela-extractor/pkg/config"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
)

func newListFieldsCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-fields <table>",
		Short: "Print the fields the API returns for a table",
		Long: `Fetch one sample record of a table and print its field names. Useful
for filling data_selection.fields. No state or output is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if cfg.Connection.URL == "" || cfg.Connection.Username == "" || cfg.Connection.Password == "" {
				return errors.Config("connection.url, connection.username and connection.password are required")
			}
			tables, err := cfg.ResolveTables()
			if err != nil {
				return err
			}
			spec, ok := tables[args[0]]
			if !ok {
				return errors.Config("unknown table %q", args[0])
			}
			if spec.IsDependent() {
				return errors.Config("table %q depends on %s and cannot be sampled directly", spec.Name, spec.ParentTable)
			}

			log, err := initLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := newDaktelaClient(ctx, cfg, log)
			if err != nil {
				return err
			}
			fields, err := client.DiscoverFields(ctx, spec)
			if err != nil {
				return err
			}
			for _, f := range fields {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

func newTablesCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the known tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			tables, err := cfg.ResolveTables()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tENDPOINT\tPARENT\tDATE FILTER")
			for _, name := range config.TableNames(tables) {
				t := tables[name]
				parent := t.ParentTable
				if parent == "" {
					parent = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", name, t.EndpointName(), parent, t.DateFilter)
			}
			return tw.Flush()
		},
	}
}
