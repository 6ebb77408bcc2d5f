package renderer

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func BenchmarkRenderTree(b *testing.B) {
	files := map[string]string{
		mainView("leaf"): `<rain:css path="/static/leaf.css"/><span>{{attr_title}}</span>`,
	}
	var markup strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&markup, `<li><comp:leaf title="item %d"/></li>`, i)
	}
	files[mainView("app")] = "<ul>" + markup.String() + "</ul>"
	f := newFixture(b, files, comp("app", "1", tag("leaf", "leaf;1")), comp("leaf", "1"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := f.start("app;1", ModeData, nil)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := r.Wait(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDeriveInstanceID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DeriveInstanceID("session", "server", "weather1.0", "0123456789abcdef", "w1")
	}
}
