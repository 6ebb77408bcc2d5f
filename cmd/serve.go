package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/rain/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the component folder over HTTP",
	Long: `Serve renders the view addressed by each request path.

The output is chosen with the rain.output query parameter (html, json or
msgpack) and the language with rain.lang or Accept-Language. Every other
query parameter reaches the root template as req_<name>.

Examples:
  rain serve
  rain serve --port 3000 --root ./components
  rain serve --watch=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("root", "./components", "Component folder")
	serveCmd.Flags().Bool("watch", true, "Reload changed templates, translations and descriptors")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("components.root", serveCmd.Flags().Lookup("root"))
	viper.BindPFlag("components.watch", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntimeConfig(cmd)
	if err != nil {
		return err
	}

	service := services.NewServeService(cfg, logger)
	info := service.GetServerInfo()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at %s\n", info.Components, info.ServerURL)
	if cfg.Components.Watch {
		fmt.Fprintf(cmd.OutOrStdout(), "Live reload at %s\n", info.ReloadURL)
	}

	return service.Serve(cmd.Context())
}
