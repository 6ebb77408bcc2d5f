package renderer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/rain/internal/parser"
)

// DefaultClientRuntime is required by the bootstrap scripts when Env names none.
const DefaultClientRuntime = "core-components/raintime/raintime"

var moduleNormalizer = strings.NewReplacer(":", "_", ";", "_", ".", "_")

// ModuleClass turns a module id into the css class scoping its markup.
func ModuleClass(moduleID string) string {
	return moduleNormalizer.Replace(moduleID)
}

func (r *Renderer) runtime() string {
	if r.env.ClientRuntime != "" {
		return r.env.ClientRuntime
	}
	return DefaultClientRuntime
}

// clientController returns the controller configured for r's view, or "".
func (r *Renderer) clientController(ctx context.Context) string {
	vc := r.env.Components.ViewConfig(r.cfg, r.url)
	if vc == nil || vc.Controller == "" {
		return ""
	}
	return r.resolveURL(ctx, vc.Controller)
}

// openFragment wraps r's markup in its container div and registers its
// client controller, linked to the parent's dom id.
func (r *Renderer) openFragment(ctx context.Context) string {
	id := r.Identity()

	var module string
	if r.element != nil && r.element.Tag != nil {
		module = ModuleClass(r.element.Tag.Module)
	} else {
		module = ModuleClass(r.cfg.ID + "_" + r.cfg.Version)
	}

	attrs := []string{`class="app_container ` + templ.EscapeString(module) + `"`}
	if r.element != nil {
		attrs = append(attrs, `data-viewid="`+templ.EscapeString(r.element.ID)+`"`)
		for _, a := range r.element.Attrs {
			if a.Key == parser.StaticIDAttr {
				continue
			}
			attrs = append(attrs, a.Key+`="`+templ.EscapeString(a.Val)+`"`)
		}
	}
	attrs = append(attrs, `data-instanceid="`+strconv.FormatInt(id.DomID, 10)+`"`)
	div := "<div " + strings.Join(attrs, " ") + ">"

	controller := r.clientController(ctx)
	if controller == "" {
		return div
	}

	parentDomID := "null"
	if r.parent != nil {
		parentDomID = strconv.FormatInt(r.parent.Identity().DomID, 10)
	}

	lines := []string{
		div,
		`<script type="application/javascript">`,
		`require(["` + r.runtime() + `"], function (Raintime) {`,
		`var Registry = Raintime.ComponentRegistry, Controller = Raintime.ComponentController, component;`,
		`var domId = ` + strconv.FormatInt(id.DomID, 10) + `;`,
		`var parentDomId = ` + parentDomID + `;`,
		`component = Registry.register({`,
		`"domId": domId,`,
		`"instanceId": "` + id.InstanceID + `",`,
		`"clientcontroller": "` + controller + `"});`,
	}
	if r.parent != nil {
		lines = append(lines, `component.addParent(parentDomId);`)
	}
	lines = append(lines, `Controller.preRender(domId);`, `});`, `</script>`)
	return strings.Join(lines, "\n")
}

// closeFragment runs the post render hook and closes the container div.
func (r *Renderer) closeFragment(ctx context.Context) string {
	if r.clientController(ctx) == "" {
		return "</div>"
	}
	return strings.Join([]string{
		`<script type="application/javascript">`,
		`require(["` + r.runtime() + `"],`,
		`function (Raintime) {`,
		`var Controller = Raintime.ComponentController;`,
		`var domId = ` + strconv.FormatInt(r.Identity().DomID, 10) + `;`,
		`Controller.postRender(domId);`,
		`});`,
		`</script>`,
		`</div>`,
	}, "\n")
}

var bodyPattern = regexp.MustCompile(`(?is)<body([^>]*)>(.*)</body>`)

// ViewBody returns what a view's body element encloses, or the whole
// view when it has none.
func ViewBody(doc string) string {
	m := bodyPattern.FindStringSubmatch(doc)
	if m == nil {
		return doc
	}
	return m[2]
}

// wrapBody puts the root's own container around its body content.
func (r *Renderer) wrapBody(ctx context.Context, doc string) string {
	loc := bodyPattern.FindStringSubmatchIndex(doc)
	if loc == nil {
		if r.mode == ModeDocument {
			return r.openFragment(ctx) + doc + r.closeFragment(ctx)
		}
		return doc
	}
	attrs := doc[loc[2]:loc[3]]
	content := doc[loc[4]:loc[5]]
	return doc[:loc[0]] +
		"<body" + attrs + ">" + r.openFragment(ctx) + content + r.closeFragment(ctx) + "</body>" +
		doc[loc[1]:]
}
