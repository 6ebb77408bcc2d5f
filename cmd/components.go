package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/services"
)

var componentsCmd = &cobra.Command{
	Use:     "components",
	Aliases: []string{"c", "list"},
	Short:   "List the components of the component folder",
	Long: `List scans the component folder and prints every component with its
url, views and tags.

Examples:
  rain components
  rain components -o json
  rain components -o yaml`,
	RunE: runComponents,
}

var componentsFormat = newChoiceFlag("table", "table", "json", "yaml")

func init() {
	rootCmd.AddCommand(componentsCmd)

	componentsCmd.Flags().VarP(componentsFormat, "output", "o", "Output format (table, json, yaml)")
}

// componentEntry is how a component is listed.
type componentEntry struct {
	Module  string            `json:"module" yaml:"module"`
	URL     string            `json:"url" yaml:"url"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Views   []string          `json:"views,omitempty" yaml:"views,omitempty"`
	Tags    []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Locales map[string]string `json:"locales,omitempty" yaml:"locales,omitempty"`
}

func runComponents(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntimeConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := services.NewRuntime(cmd.Context(), cfg, logger, services.WithoutReplication())
	if err != nil {
		return err
	}
	defer rt.Close()

	entries := listEntries(rt.Components.GetAll())
	out := cmd.OutOrStdout()
	if len(entries) == 0 && componentsFormat.String() == "table" {
		fmt.Fprintln(out, "No components found.")
		return nil
	}
	return writeComponents(out, componentsFormat.String(), entries)
}

func listEntries(configs []*component.Config) []componentEntry {
	entries := make([]componentEntry, 0, len(configs))
	for _, c := range configs {
		e := componentEntry{Module: c.ModuleID(), URL: c.URL, Dir: c.Dir, Locales: c.Locales}
		for _, v := range c.Views {
			e.Views = append(e.Views, v.View)
		}
		for _, t := range c.Taglib {
			e.Tags = append(e.Tags, t.Name()+" -> "+t.Module)
		}
		sort.Strings(e.Tags)
		entries = append(entries, e)
	}
	return entries
}

func writeComponents(w io.Writer, format string, entries []componentEntry) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(entries)
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODULE\tURL\tVIEWS\tTAGS")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Module, e.URL, dash(strings.Join(e.Views, ",")), dash(strings.Join(e.Tags, ",")))
		}
		return tw.Flush()
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
