package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/services"
)

var renderCmd = &cobra.Command{
	Use:     "render <path>",
	Aliases: []string{"r"},
	Short:   "Render one view to stdout",
	Long: `Render resolves a request path the way the server does and writes the
rendered view to stdout.

Examples:
  rain render /components/weather
  rain render /components/weather -o json --lang de
  rain render /components/weather/htdocs/main.html --data city=Berlin`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderOutput = newChoiceFlag("html", config.OutputModes...)
	renderLang   string
	renderData   = keyValueFlag{}
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().VarP(renderOutput, "output", "o", "Output format (html, json, msgpack)")
	renderCmd.Flags().StringVar(&renderLang, "lang", "", "Language to render in (default is locale.default)")
	renderCmd.Flags().Var(renderData, "data", "Request data as key=value, repeatable")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntimeConfig(cmd)
	if err != nil {
		return err
	}

	_, err = services.NewRenderService(cfg, logger).Render(cmd.Context(), cmd.OutOrStdout(), services.RenderOptions{
		Path:   args[0],
		Output: renderOutput.String(),
		Lang:   renderLang,
		Data:   renderData,
	})
	return err
}
