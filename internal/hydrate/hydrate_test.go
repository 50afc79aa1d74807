package hydrate

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScript(t *testing.T) {
	var buf bytes.Buffer
	err := Script("/bundles/user/register.page.js", "__PAGE_DATA__", map[string]any{"user": "ada"}).
		Render(context.Background(), &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `<script>window["__PAGE_DATA__"] = {"user":"ada"};</script>`)
	assert.Contains(t, out, `<script src="/bundles/user/register.page.js" defer></script>`)
	assert.Less(t, strings.Index(out, "__PAGE_DATA__"), strings.Index(out, "src="),
		"data must be published before the bundle loads")
}

func TestScriptEscapesData(t *testing.T) {
	var buf bytes.Buffer
	err := Script("/b.js?a=1&b=2", "__D__", map[string]any{"html": "</script><script>alert(1)"}).
		Render(context.Background(), &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "</script><script>alert")
	assert.Contains(t, out, `\u003c/script\u003e`)
	assert.Contains(t, out, `src="/b.js?a=1&amp;b=2"`)
}

func TestScriptNilData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Script("/a.js", "__D__", nil).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), `window["__D__"] = {};`)
}

func TestScriptUnencodableData(t *testing.T) {
	var buf bytes.Buffer
	err := Script("/a.js", "__D__", map[string]any{"ch": make(chan int)}).Render(context.Background(), &buf)
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	var buf bytes.Buffer
	err := Page("Users <admin>", "root", Script("/bundles/home.page.js", "__PAGE_DATA__", nil)).
		Render(context.Background(), &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>Users &lt;admin&gt;</title>")
	assert.Contains(t, out, `<div id="root"></div>`)
	assert.Less(t, strings.Index(out, `<div id="root">`), strings.Index(out, "<script"))
	assert.True(t, strings.HasSuffix(out, "</body></html>"))
}
