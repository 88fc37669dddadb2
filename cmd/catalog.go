package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/reactd/internal/config"
	"github.com/nextlevelbuilder/reactd/internal/reactions"
)

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective reaction catalog and flows",
		Long:  "Print the built-in catalog and flows with the overrides from the config file applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			settings, err := cfg.Reactions.Settings()
			if err != nil {
				return err
			}
			flows, err := cfg.Reactions.FlowTable()
			if err != nil {
				return err
			}
			printCatalog(settings.Catalog, flows)
			return nil
		},
	}
}

func printCatalog(catalog *reactions.Catalog, flows map[string]reactions.Flow) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	for _, cat := range reactions.Categories() {
		fmt.Fprintf(w, "[%s]\n", cat)
		table := catalog.Table(cat)
		keys := make([]string, 0, len(table))
		for k := range table {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\t%s\n", k, table[k])
		}
	}

	keys := make([]string, 0, len(flows))
	for k := range flows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "[flows]")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t", k)
		for i, s := range flows[k].Stages {
			if i > 0 {
				fmt.Fprintf(w, " -(%s)-> ", s.Delay)
			}
			fmt.Fprint(w, s.Emoji)
		}
		fmt.Fprintln(w)
	}
}
