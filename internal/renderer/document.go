package renderer

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/a-h/templ"
)

var headClose = regexp.MustCompile(`(?i)</head\s*>`)

// HeadTags renders the link and script tags loading a result's dependencies.
func HeadTags(res *Result) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		for _, css := range res.Dependencies.CSS {
			if _, err := io.WriteString(w, `<link rel="stylesheet" type="text/css" href="`+templ.EscapeString(css)+`">`+"\n"); err != nil {
				return err
			}
		}
		for _, locale := range res.Dependencies.Locale {
			if _, err := io.WriteString(w, `<link rel="rain-locale" href="`+templ.EscapeString(locale)+`">`+"\n"); err != nil {
				return err
			}
		}
		for _, script := range res.Dependencies.Script {
			if _, err := io.WriteString(w, `<script type="application/javascript" src="`+templ.EscapeString(script)+`"></script>`+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// Document renders a root result as a complete page. Content that brings
// its own head gets the dependency tags injected there; anything else is
// placed in a minimal shell.
func Document(lang string, res *Result) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if loc := headClose.FindStringIndex(res.Content); loc != nil {
			if _, err := io.WriteString(w, res.Content[:loc[0]]); err != nil {
				return err
			}
			if err := HeadTags(res).Render(ctx, w); err != nil {
				return err
			}
			_, err := io.WriteString(w, res.Content[loc[0]:])
			return err
		}

		if lang == "" {
			lang = "en"
		}
		if _, err := io.WriteString(w, "<!DOCTYPE html>\n<html lang=\""+templ.EscapeString(lang)+"\">\n<head>\n<meta charset=\"utf-8\">\n"); err != nil {
			return err
		}
		if err := HeadTags(res).Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</head>\n<body>\n"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, res.Content); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n</body>\n</html>\n")
		return err
	})
}

// RenderDocument renders Document into a string.
func RenderDocument(ctx context.Context, lang string, res *Result) (string, error) {
	var b strings.Builder
	if err := Document(lang, res).Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
