package renderer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/locale"
	"github.com/conneroisu/rain/internal/parser"
	"github.com/conneroisu/rain/internal/session"
)

func TestWeatherExample(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):     `<div><comp:weather data-sid="w1"/></div>`,
		mainView("weather"): `<span>Sunny</span>`,
	},
		comp("app", "1", tag("weather", "weather;1.0")),
		withController(comp("weather", "1.0"), "js/main.js"),
	)
	f.source.gate(mainView("app"))

	root, err := f.start("app;1", ModeData, nil)
	require.NoError(t, err)

	var rootRenders atomic.Int32
	var childDoneFirst atomic.Bool
	root.OnStateChange(func(r *Renderer, s State) {
		if s != StateRendered {
			return
		}
		rootRenders.Add(1)
		children := r.Children()
		childDoneFirst.Store(len(children) == 1 && children[0].State() == StateRendered)
	})
	f.source.release(mainView("app"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := root.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), rootRenders.Load())
	assert.True(t, childDoneFirst.Load())

	rootIID := DeriveInstanceID("", "test-server", "app1", "", "")
	childIID := DeriveInstanceID("", "test-server", "weather1.0", rootIID, "w1")

	open := strings.Join([]string{
		`<div class="app_container weather_1_0" data-viewid="1" data-instanceid="2">`,
		`<script type="application/javascript">`,
		`require(["core-components/raintime/raintime"], function (Raintime) {`,
		`var Registry = Raintime.ComponentRegistry, Controller = Raintime.ComponentController, component;`,
		`var domId = 2;`,
		`var parentDomId = 1;`,
		`component = Registry.register({`,
		`"domId": domId,`,
		`"instanceId": "` + childIID + `",`,
		`"clientcontroller": "/components/weather/js/main.js"});`,
		`component.addParent(parentDomId);`,
		`Controller.preRender(domId);`,
		`});`,
		`</script>`,
	}, "\n")
	closing := strings.Join([]string{
		`<script type="application/javascript">`,
		`require(["core-components/raintime/raintime"],`,
		`function (Raintime) {`,
		`var Controller = Raintime.ComponentController;`,
		`var domId = 2;`,
		`Controller.postRender(domId);`,
		`});`,
		`</script>`,
		`</div>`,
	}, "\n")

	assert.Equal(t, "<div>"+open+"<span>Sunny</span>"+closing+"</div>", res.Content)
	assert.Equal(t, Identity{DomID: 1, InstanceID: rootIID}, res.Identity)

	child := root.Children()[0]
	assert.Equal(t, Identity{DomID: 2, InstanceID: childIID}, child.Identity())
	assert.Equal(t, "/components/weather/js/main.js", child.Result().Controller)
	assert.Same(t, root, child.Parent())
	assert.Equal(t, "w1", child.StaticID())
}

func TestChildlessRootRendersImmediately(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("leaf"): `<p>Hello {{req_name}}</p>`,
	}, comp("leaf", "1"))

	cfg, err := f.container.Resolve("leaf;1")
	require.NoError(t, err)
	r, err := New(context.Background(), f.env, Options{
		Component: cfg,
		Mode:      ModeData,
		Data:      map[string]interface{}{"req_name": "<Ada>"},
	})
	require.NoError(t, err)

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello &lt;Ada&gt;</p>", res.Content)
	assert.Empty(t, r.Children())
	assert.Equal(t, StateRendered, r.State())
}

func TestMalformedSiblingDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):     `<section><comp:broken/><comp:weather/></section>`,
		mainView("broken"):  `<p>never <span`,
		mainView("weather"): `<span>Sunny</span>`,
	},
		comp("app", "1", tag("broken", "broken;1"), tag("weather", "weather;1")),
		comp("broken", "1"),
		comp("weather", "1"),
	)

	root, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "", children[0].Result().Content)
	assert.Equal(t, "<span>Sunny</span>", children[1].Result().Content)

	assert.Contains(t, res.Content, "<span>Sunny</span>")
	assert.NotContains(t, res.Content, "never")
	assert.True(t, strings.HasPrefix(res.Content, "<section>"))
}

func TestMalformedRootYieldsEmptyContent(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<div><span class="x"`,
	}, comp("app", "1"))

	_, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t, "", res.Content)
}

func TestMissingTemplateRendersEmpty(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<div><comp:gone/></div>`,
	}, comp("app", "1", tag("gone", "gone;1")), comp("gone", "1"))

	_, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t, `<div><div class="app_container gone_1" data-viewid="1" data-instanceid="2"></div></div>`, res.Content)
}

func TestUnresolvableChildIsDropped(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<div>a<comp:ghost>inner</comp:ghost>b</div>`,
	}, comp("app", "1", tag("ghost", "ghost;1")))

	root, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t, "<div>ab</div>", res.Content)
	assert.Empty(t, root.Children())
}

func TestParentContentIsSlotted(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):     `<comp:frame title="Hi"><b>inner</b><comp:weather/></comp:frame>`,
		mainView("frame"):   `<section><h1>{{attr_title}}</h1><c:content/></section>`,
		mainView("weather"): `<span>Sunny</span>`,
	},
		comp("app", "1", tag("frame", "frame;1"), tag("weather", "weather;1")),
		comp("frame", "1"),
		comp("weather", "1"),
	)

	root, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)

	frame := root.Children()[0]
	require.Len(t, frame.Children(), 1, "slotted reference resolves through the parent's taglib")
	assert.Equal(t, "weather;1", frame.Children()[0].Component().ModuleID())

	assert.Contains(t, frame.Result().Content, "<section><h1>Hi</h1><b>inner</b>")
	assert.Contains(t, frame.Result().Content, "<span>Sunny</span></div></section>")
	assert.Contains(t, res.Content, `<div class="app_container frame_1" data-viewid="1" title="Hi" data-instanceid="2">`)
}

func TestNonRootRendersBodyOnly(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):  `<comp:page/>`,
		mainView("page"): `<html><head><title>t</title></head><body class="x"><p>body</p></body></html>`,
	}, comp("app", "1", tag("page", "page;1")), comp("page", "1"))

	root, _, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t, "<p>body</p>", root.Children()[0].Result().Content)
}

func TestDependencyAggregation(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):  `<rain:css path="css/app.css"/><comp:pair/><rain:script path="js/app.js"/>`,
		mainView("pair"): `<rain:css path="/static/shared.css"/><comp:a/><comp:b/>`,
		mainView("a"):    `<rain:css path="/static/shared.css"/><rain:script path="js/a.js"/><rain:locale path="locale/en.yaml"/>a`,
		mainView("b"):    `<rain:css path="/static/shared.css"/><rain:css path="css/b.css"/>b`,
	},
		comp("app", "1", tag("pair", "pair;1")),
		comp("pair", "1", tag("a", "a;1"), tag("b", "b;1")),
		comp("a", "1"),
		comp("b", "1"),
	)

	root, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)

	pair := root.Children()[0]
	assert.Equal(t, []string{"/static/shared.css", "/static/shared.css", "/static/shared.css", "/components/b/css/b.css"},
		pair.Result().Dependencies.CSS, "non-root results keep duplicates")

	assert.Equal(t, []string{"/components/app/css/app.css", "/static/shared.css", "/components/b/css/b.css"}, res.Dependencies.CSS)
	assert.Equal(t, []string{"/components/app/js/app.js", "/components/a/js/a.js"}, res.Dependencies.Script)
	assert.Equal(t, []string{"/components/a/locale/en.yaml"}, res.Dependencies.Locale)
}

func TestControllerFromMarkup(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<rain:controller path="js/index.js"/><p>x</p>`,
	}, comp("app", "1"))

	_, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t, "/components/app/js/index.js", res.Controller)
}

func TestDocumentMode(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):     `<html><head><title>App</title></head><body class="main"><comp:weather/></body></html>`,
		mainView("weather"): `<rain:css path="css/w.css"/><span>Sunny</span>`,
	},
		withController(comp("app", "1", tag("weather", "weather;1")), "js/app.js"),
		comp("weather", "1"),
	)

	_, res, err := f.render("app;1", ModeDocument, NewRequest(nil, "de"))
	require.NoError(t, err)

	head, body, found := strings.Cut(res.Content, "</head>")
	require.True(t, found)
	assert.Contains(t, head, `<link rel="stylesheet" type="text/css" href="/components/weather/css/w.css">`)
	assert.True(t, strings.HasPrefix(body, "<body class=\"main\"><div class=\"app_container app_1\" data-instanceid=\"1\">\n<script"))
	assert.Contains(t, body, `"clientcontroller": "/components/app/js/app.js"});`)
	assert.Contains(t, body, `var parentDomId = null;`)
	assert.NotContains(t, body, `component.addParent`)
	assert.Contains(t, body, "Controller.postRender(domId);\n});\n</script>\n</div></body></html>")
}

func TestDocumentModeWithoutHead(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<rain:script path="js/x.js"/><p>plain</p>`,
	}, comp("app", "1"))

	_, res, err := f.render("app;1", ModeDocument, NewRequest(nil, "fr"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Content, "<!DOCTYPE html>\n<html lang=\"fr\">"))
	assert.Contains(t, res.Content, `<script type="application/javascript" src="/components/app/js/x.js"></script>`)
	assert.Contains(t, res.Content, `<body>`+"\n"+`<div class="app_container app_1" data-instanceid="1"><p>plain</p></div>`)
}

func TestInstanceIDsAreStableWithinSession(t *testing.T) {
	files := map[string]string{
		mainView("app"):     `<comp:weather data-sid="a"/><comp:weather data-sid="b"/><comp:weather/>`,
		mainView("weather"): `<span>Sunny</span>`,
	}
	f := newFixture(t, files, comp("app", "1", tag("weather", "weather;1")), comp("weather", "1"))
	store := session.NewStore(time.Hour)
	ctx := context.Background()

	identities := func(sess *session.Session) []Identity {
		root, _, err := f.render("app;1", ModeData, NewRequest(sess, ""))
		require.NoError(t, err)
		var ids []Identity
		walk(root, func(r *Renderer) { ids = append(ids, r.Identity()) })
		return ids
	}

	sess := store.Create(ctx)
	first := identities(sess)
	second := identities(sess)
	require.Len(t, first, 4)
	assert.Equal(t, first, second)

	assert.NotEqual(t, first[1].InstanceID, first[2].InstanceID, "distinct static ids")
	assert.NotEqual(t, first[1].InstanceID, first[3].InstanceID)

	other := identities(store.Create(ctx))
	for i := range first {
		assert.Equal(t, first[i].DomID, other[i].DomID)
		assert.NotEqual(t, first[i].InstanceID, other[i].InstanceID)
	}
	assert.Len(t, sess.Snapshot().InstanceIDs, 4)
}

func TestDomIDsAreUniqueAndParentFirst(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):  `<comp:mid/><comp:leaf/><comp:mid/>`,
		mainView("mid"):  `<comp:leaf/><comp:leaf/>`,
		mainView("leaf"): `leaf`,
	},
		comp("app", "1", tag("mid", "mid;1"), tag("leaf", "leaf;1")),
		comp("mid", "1", tag("leaf", "leaf;1")),
		comp("leaf", "1"),
	)

	root, _, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)

	seen := map[int64]bool{}
	count := 0
	walk(root, func(r *Renderer) {
		id := r.Identity().DomID
		assert.False(t, seen[id], "dom id %d reused", id)
		seen[id] = true
		count++
		if p := r.Parent(); p != nil {
			assert.Less(t, p.Identity().DomID, id)
		}
	})
	assert.Equal(t, 8, count)
	for i := int64(1); i <= int64(count); i++ {
		assert.True(t, seen[i], "dom id %d missing", i)
	}
}

type fakeLocalizer struct {
	state atomic.Int32
	ready chan struct{}
}

func (l *fakeLocalizer) State() locale.State    { return locale.State(l.state.Load()) }
func (l *fakeLocalizer) Ready() <-chan struct{} { return l.ready }
func (l *fakeLocalizer) ApplyTemplate(doc string, data map[string]interface{}) (string, error) {
	merged := map[string]interface{}{"t": map[string]string{"hello": "Hallo"}}
	for k, v := range data {
		merged[k] = v
	}
	return mustache.Render(doc, merged)
}

func TestRenderWaitsForLocales(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<p>{{t.hello}}</p>`,
	}, comp("app", "1"))

	loc := &fakeLocalizer{ready: make(chan struct{})}
	loc.state.Store(int32(locale.StateLoading))
	var mu sync.Mutex
	var langs []string
	f.env.Locales = func(_ context.Context, _ *component.Config, lang string) Localizer {
		mu.Lock()
		defer mu.Unlock()
		langs = append(langs, lang)
		return loc
	}

	root, err := f.start("app;1", ModeData, NewRequest(nil, "de"))
	require.NoError(t, err)

	require.True(t, waitState(root, StateParsed, 2*time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateParsed, root.State(), "render waits for the localizer")

	loc.state.Store(int32(locale.StateLoaded))
	close(loc.ready)

	res, err := root.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>Hallo</p>", res.Content)
	assert.Equal(t, []string{"de"}, langs)
}

func TestRenderWithoutLocalesTemplatesDirectly(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"): `<p>{{t.hello}}</p>`,
	}, comp("app", "1"))
	f.env.Locales = func(context.Context, *component.Config, string) Localizer { return locale.NoLocales() }

	_, res, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t, "<p></p>", res.Content)
}

func TestWaitHonorsContext(t *testing.T) {
	f := newFixture(t, map[string]string{mainView("app"): `x`}, comp("app", "1"))
	f.source.gate(mainView("app"))

	root, err := f.start("app;1", ModeData, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = root.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateInit, root.State())
	assert.Nil(t, root.Result())
}

func TestNewRequiresComponent(t *testing.T) {
	_, err := New(context.Background(), &Env{}, Options{})
	assert.Error(t, err)
}

func TestTree(t *testing.T) {
	f := newFixture(t, map[string]string{
		mainView("app"):     `<comp:weather/>`,
		mainView("weather"): `w`,
	}, comp("app", "1", tag("weather", "weather;1")), comp("weather", "1"))

	root, _, err := f.render("app;1", ModeData, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"app;1 /components/app/htdocs/main.html [rendered]\n"+
			"  weather;1 /components/weather/htdocs/main.html [rendered] element=1\n",
		root.Tree())
}

func TestUnique(t *testing.T) {
	d := Unique(parser.Dependencies{CSS: []string{"a", "b", "a", "c", "b"}, Script: []string{"x", "x"}})
	assert.Equal(t, []string{"a", "b", "c"}, d.CSS)
	assert.Equal(t, []string{"x"}, d.Script)
	assert.Empty(t, d.Locale)
}

func TestViewBody(t *testing.T) {
	assert.Equal(t, "<p>x</p>", ViewBody(`<html><BODY id="1"><p>x</p></BODY></html>`))
	assert.Equal(t, "<p>x</p>", ViewBody(`<p>x</p>`))
}

func TestModuleClass(t *testing.T) {
	assert.Equal(t, "weather_1_0", ModuleClass("weather;1.0"))
	assert.Equal(t, "ns_tag", ModuleClass("ns:tag"))
}

func TestDeriveInstanceID(t *testing.T) {
	a := DeriveInstanceID("s", "srv", "weather1.0", "p", "w1")
	assert.Equal(t, a, DeriveInstanceID("s", "srv", "weather1.0", "p", "w1"))
	assert.Len(t, a, 40)
	assert.NotEqual(t, a, DeriveInstanceID("s", "srv", "weather1.0", "p", "w2"))
	assert.NotEqual(t, DeriveInstanceID("ab", "c", "", "", ""), DeriveInstanceID("a", "bc", "", "", ""))
}

func TestInstanceKey(t *testing.T) {
	assert.Equal(t, "weather1.0_pInstanceId=abc", InstanceKey("weather1.0", "abc", ""))
	assert.Equal(t, "weather1.0_pInstanceId=_staticID=w1", InstanceKey("weather1.0", "", "w1"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "parsed", StateParsed.String())
	assert.Equal(t, "rendered", StateRendered.String())
	assert.Equal(t, "unknown", State(7).String())
}
