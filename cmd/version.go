package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/rain/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for rain.

Examples:
  rain version              # Show version and commit
  rain version --detailed   # Show detailed build info
  rain version -o json      # Output as JSON`,
	RunE: runVersionCommand,
}

var (
	versionFormat   = newChoiceFlag("text", "text", "json")
	versionDetailed bool
)

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().VarP(versionFormat, "output", "o", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch {
	case versionFormat.String() == "json":
		return outputVersionJSON(out)
	case versionDetailed:
		_, err := fmt.Fprintln(out, version.GetDetailedVersion())
		return err
	default:
		return outputVersionDefault(out)
	}
}

func outputVersionDefault(w io.Writer) error {
	info := version.GetBuildInfo()

	fmt.Fprintf(w, "rain %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(w, " (%s)", info.GitCommit[:7])
	}
	_, err := fmt.Fprintln(w)
	return err
}

func outputVersionJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(version.GetBuildInfo())
}
