package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vjranagit/perfmon/pkg/registry"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the queryable categories and fields",
	RunE:  runCategories,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}

func runCategories(cmd *cobra.Command, _ []string) error {
	reg, err := registry.New(registry.Builtin()...)
	if err != nil {
		return fmt.Errorf("perfmon categories: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tFIELD\tDEFAULT\tMETHODS")
	for _, t := range reg.Templates() {
		category := t.Name
		if t.SubCategoryColumn != "" {
			category += "[.<" + t.SubCategoryColumn + ">]"
		}
		for _, f := range t.Fields {
			methods := make([]string, 0, len(f.Methods()))
			for _, m := range f.Methods() {
				methods = append(methods, string(m))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", category, f.Name, f.Default, strings.Join(methods, ","))
		}
	}
	return w.Flush()
}
