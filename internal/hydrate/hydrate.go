// Package hydrate renders the HTML shell that loads a page bundle. It is
// the runtime counterpart of the bundle bootstrap: the bootstrap reads the
// data global and hydrates the root element, this package writes both.
package hydrate

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Script publishes data under window[dataGlobal] and then loads the bundle
// at bundleURL.
func Script(bundleURL, dataGlobal string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		value := data
		if value == nil {
			value = map[string]any{}
		}
		payload, err := templ.JSONString(value)
		if err != nil {
			return err
		}
		global, err := json.Marshal(dataGlobal)
		if err != nil {
			return err
		}

		var b strings.Builder
		b.WriteString("<script>window[")
		b.Write(global)
		b.WriteString("] = ")
		b.WriteString(payload)
		b.WriteString(";</script>")
		b.WriteString(`<script src="`)
		b.WriteString(templ.EscapeString(bundleURL))
		b.WriteString(`" defer></script>`)

		_, err = io.WriteString(w, b.String())
		return err
	})
}

// Page renders a complete document with an empty root element followed by
// script. Nothing is server-rendered into the root, so a bundle that calls
// hydrateRoot makes React report a hydration mismatch and render on the
// client; configure hydration.function as createRoot to skip hydration.
func Page(title, rootID string, script templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		head := "<!DOCTYPE html><html><head><meta charset=\"utf-8\">" +
			"<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">" +
			"<title>" + templ.EscapeString(title) + "</title></head><body>" +
			"<div id=\"" + templ.EscapeString(rootID) + "\"></div>"
		if _, err := io.WriteString(w, head); err != nil {
			return err
		}
		if script != nil {
			if err := script.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}
