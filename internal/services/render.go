package services

import (
	"context"
	"io"

	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/logging"
	"github.com/conneroisu/rain/internal/renderer"
	"github.com/conneroisu/rain/internal/server"
)

// RenderService renders single views without an HTTP server.
type RenderService struct {
	config *config.Config
	logger logging.Logger
	opts   []RuntimeOption
}

// NewRenderService creates a render service. Sessions are never replicated.
func NewRenderService(cfg *config.Config, logger logging.Logger, opts ...RuntimeOption) *RenderService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RenderService{
		config: cfg,
		logger: logger,
		opts:   append([]RuntimeOption{WithoutReplication()}, opts...),
	}
}

// RenderOptions selects the view and how it is written.
type RenderOptions struct {
	// Path is a request path, e.g. /components/weather or
	// /components/weather/htdocs/detail.html.
	Path   string
	Output string
	Lang   string
	// Data is exposed to the root template with a req_ prefix.
	Data map[string]string
}

// Render renders the view at opts.Path and writes it to w.
func (s *RenderService) Render(ctx context.Context, w io.Writer, opts RenderOptions) (*renderer.Result, error) {
	rt, err := NewRuntime(ctx, s.config, s.logger, s.opts...)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	cfg, err := rt.Components.ResolveFromRequestPath(opts.Path)
	if err != nil {
		return nil, err
	}

	output := opts.Output
	if output == "" {
		output = s.config.Renderer.DefaultOutput
	}
	lang := opts.Lang
	if lang == "" {
		lang = s.config.Locale.Default
	}
	mode := renderer.ModeData
	if output == "html" {
		mode = renderer.ModeDocument
	}

	data := make(map[string]interface{}, len(opts.Data))
	for k, v := range opts.Data {
		data[server.RequestDataPrefix+k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Server.RequestTimeout)
	defer cancel()

	r, err := renderer.New(ctx, rt.Env, renderer.Options{
		Component: cfg,
		URL:       rt.Components.RequestViewURL(cfg, opts.Path),
		Mode:      mode,
		Data:      data,
		Request:   renderer.NewRequest(rt.Sessions.Create(ctx), lang),
	})
	if err != nil {
		return nil, err
	}
	res, err := r.Wait(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "View rendered", "tree", r.Tree())
	if _, err := server.Encode(w, output, res); err != nil {
		return nil, err
	}
	return res, nil
}
