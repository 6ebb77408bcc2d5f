package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/rain/internal/services"
)

var initCmd = &cobra.Command{
	Use:     "init [directory]",
	Aliases: []string{"i"},
	Short:   "Create a rain project",
	Long: `Init writes rain.yml and an empty component folder.

Examples:
  rain init
  rain init my-site --example`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initExample bool
	initForce   bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initExample, "example", false, "Add an example weather component")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing rain.yml")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	err := services.NewInitService().InitProject(services.InitOptions{
		ProjectDir: dir,
		Example:    initExample,
		Force:      initForce,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", filepath.Join(dir, services.ConfigFile))
	if initExample {
		fmt.Fprintln(cmd.OutOrStdout(), "Try: rain render /components/weather --lang de")
	}
	return nil
}
