package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/text/language"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/renderer"
	"github.com/conneroisu/rain/internal/session"
	"github.com/conneroisu/rain/internal/version"
)

// Query parameters steering a view request. They are not exposed to templates.
const (
	OutputParam = "rain.output"
	LangParam   = "rain.lang"
)

// RequestDataPrefix prefixes query parameters in template data.
const RequestDataPrefix = "req_"

// handleView renders the view addressed by the request path.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := s.components.ResolveFromRequestPath(r.URL.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ext := strings.ToLower(path.Ext(r.URL.Path))
	if ext != "" && ext != ".html" && ext != ".htm" {
		s.serveStatic(w, r, cfg)
		return
	}

	query := r.URL.Query()
	output := query.Get(OutputParam)
	if output == "" {
		output = s.cfg.Renderer.DefaultOutput
	}
	if !slices.Contains(config.OutputModes, output) {
		s.fail(w, r, errors.NewValidationError(errors.ErrCodeValidationFailed,
			"unsupported output "+output+", expected one of "+strings.Join(config.OutputModes, ", ")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	sess := s.session(ctx, w, r)
	lang := requestLang(r, s.cfg.Locale.Default)

	mode := renderer.ModeData
	if output == "html" {
		mode = renderer.ModeDocument
	}

	rend, err := renderer.New(ctx, s.env, renderer.Options{
		Component: cfg,
		URL:       s.components.RequestViewURL(cfg, r.URL.Path),
		Mode:      mode,
		Data:      requestData(query),
		Request:   renderer.NewRequest(sess, lang),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := rend.Wait(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away.
			return
		}
		s.logger.Warn(ctx, err, "Render did not finish", "url", rend.URL())
		s.fail(w, r, err)
		return
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Warn(ctx, err, "Session not replicated", "session", sess.ID())
	}

	s.write(w, r, output, res)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, output string, res *renderer.Result) {
	var buf bytes.Buffer
	contentType, err := Encode(&buf, output, res)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug(r.Context(), "Response not written", "error", err.Error())
	}
}

// Encode writes res in the named output format and returns its content type.
// Html output is the rendered content alone.
func Encode(w io.Writer, output string, res *renderer.Result) (string, error) {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(res); err != nil {
			return "", errors.NewInternalError(errors.ErrCodeInternalError, "encoding json response", err)
		}
		return "application/json", nil
	case "msgpack":
		if err := msgpack.NewEncoder(w).Encode(res); err != nil {
			return "", errors.NewInternalError(errors.ErrCodeInternalError, "encoding msgpack response", err)
		}
		return "application/msgpack", nil
	case "html", "":
		if _, err := io.WriteString(w, res.Content); err != nil {
			return "", err
		}
		return "text/html; charset=utf-8", nil
	default:
		return "", errors.NewValidationError(errors.ErrCodeValidationFailed,
			"unsupported output "+output+", expected one of "+strings.Join(config.OutputModes, ", "))
	}
}

// serveStatic serves a component's asset from disk.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, cfg *component.Config) {
	if cfg.IsRemote() {
		http.Redirect(w, r, strings.TrimSuffix(cfg.URL, "/")+"/"+strings.TrimPrefix(s.components.LocalPath(cfg, r.URL.Path), "/"), http.StatusFound)
		return
	}
	file, err := s.resources.FilePath(s.components.LocalPath(cfg, r.URL.Path))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.ServeFile(w, r, file)
}

// session returns the session named by the request cookie, creating one
// when it is missing or expired.
func (s *Server) session(ctx context.Context, w http.ResponseWriter, r *http.Request) *session.Session {
	name := s.cfg.Session.CookieName
	if c, err := r.Cookie(name); err == nil {
		if sess, ok := s.sessions.Get(ctx, c.Value); ok {
			return sess
		}
	}

	sess := s.sessions.Create(ctx)
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.errors.Handle(r.Context(), err)

	status := errors.HTTPStatus(err)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	http.Error(w, msg, status)
}

// requestLang prefers rain.lang, then the best Accept-Language entry.
func requestLang(r *http.Request, fallback string) string {
	if lang := r.URL.Query().Get(LangParam); lang != "" {
		return lang
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err == nil && len(tags) > 0 {
		return tags[0].String()
	}
	return fallback
}

// requestData exposes the first value of every query parameter as req_<key>.
func requestData(query map[string][]string) map[string]interface{} {
	data := make(map[string]interface{}, len(query))
	for key, values := range query {
		if strings.HasPrefix(key, "rain.") || len(values) == 0 {
			continue
		}
		data[RequestDataPrefix+key] = values[0]
	}
	return data
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.GetVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]interface{}{
			"server":     map[string]interface{}{"status": "healthy", "message": "HTTP server operational"},
			"components": map[string]interface{}{"status": "healthy", "components": s.components.Count()},
			"sessions":   map[string]interface{}{"status": "healthy", "sessions": s.sessions.Len()},
			"reload":     map[string]interface{}{"status": "healthy", "clients": s.hub.Clients()},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

// componentInfo is the listing entry of one registered component.
type componentInfo struct {
	Module string                 `json:"module"`
	URL    string                 `json:"url"`
	Path   string                 `json:"path,omitempty"`
	Views  []component.ViewConfig `json:"views,omitempty"`
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := s.components.GetAll()
	list := make([]componentInfo, 0, len(all))
	for _, cfg := range all {
		list = append(list, componentInfo{Module: cfg.ModuleID(), URL: cfg.URL, Path: cfg.Path, Views: cfg.Views})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode component list")
	}
}
