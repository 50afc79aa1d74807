// Package naming derives the external identity of a page source file: its
// component name, its flat bundle file name and its bundle output path.
//
// All functions are pure. ExtractComponentName and ToScriptFileName look at
// the base name only, so two pages with the same leaf name in different
// directories collide; ToScriptPath keeps the directory and does not.
package naming

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ComponentSuffix is appended to every derived component name.
const ComponentSuffix = "Page"

// Identity is the derived identity of one source file.
type Identity struct {
	// RelPath is the source path relative to the scan root, slash separated.
	RelPath        string
	ComponentName  string
	ScriptFileName string
	OutputPath     string
}

// Namer binds the configured suffix and output directory.
type Namer struct {
	Suffix    string
	OutputDir string
}

// Derive computes the identity of a root-relative source path.
func (n Namer) Derive(relPath string) Identity {
	return Identity{
		RelPath:        filepath.ToSlash(filepath.Clean(relPath)),
		ComponentName:  ExtractComponentName(relPath, n.Suffix),
		ScriptFileName: ToScriptFileName(relPath, n.Suffix),
		OutputPath:     ToScriptPath(n.OutputDir, relPath, n.Suffix),
	}
}

// Matches reports whether name carries the configured suffix.
func (n Namer) Matches(name string) bool {
	return HasSuffix(name, n.Suffix)
}

// HasSuffix reports whether the base name of path ends with suffix. An
// empty suffix never matches.
func HasSuffix(path, suffix string) bool {
	if suffix == "" {
		return false
	}
	return strings.HasSuffix(filepath.Base(path), suffix)
}

// ScriptSuffix maps a source suffix to its bundle suffix by replacing the
// final extension with ".js": "page.tsx" -> "page.js", ".tsx" -> ".js".
func ScriptSuffix(suffix string) string {
	return strings.TrimSuffix(suffix, filepath.Ext(suffix)) + ".js"
}

// ExtractComponentName returns the component name for path:
// "user-profile.page.tsx" with suffix "page.tsx" yields "UserProfilePage".
// Only the base name is used.
func ExtractComponentName(path, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(path), suffix)
	segments := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})

	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(titleSegment(seg))
	}
	b.WriteString(ComponentSuffix)
	return b.String()
}

// titleSegment upper-cases the first rune and lower-cases the rest.
func titleSegment(seg string) string {
	_, size := utf8.DecodeRuneInString(seg)
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und)
	return upper.String(seg[:size]) + lower.String(seg[size:])
}

// ToScriptFileName returns the flat bundle file name for path. It is kept
// for registries written with a flat output layout.
func ToScriptFileName(path, suffix string) string {
	return strings.TrimSuffix(filepath.Base(path), suffix) + ScriptSuffix(suffix)
}

// ToScriptPath returns the bundle output path for a root-relative source
// path, preserving its directories under outputDir.
func ToScriptPath(outputDir, relPath, suffix string) string {
	rel := filepath.Clean(filepath.FromSlash(relPath))
	return filepath.Join(outputDir, strings.TrimSuffix(rel, suffix)+ScriptSuffix(suffix))
}

// FallbackScriptFileName guesses the bundle file name of a component that
// has no registry entry by reversing ExtractComponentName:
// "UserProfilePage" -> "user-profile.page.js" for suffix "page.tsx".
// Separators other than "-" cannot be recovered.
func FallbackScriptFileName(componentName, suffix string) string {
	stem := strings.TrimSuffix(componentName, ComponentSuffix)
	if stem == "" {
		stem = componentName
	}
	return kebab(stem) + "." + strings.TrimPrefix(ScriptSuffix(suffix), ".")
}

func kebab(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(r)
	}
	return cases.Lower(language.Und).String(b.String())
}
