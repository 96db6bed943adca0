// Package naming is dsr's single source of truth for asset names
// (spec.md §4.3). Templates are parsed into a small token AST over a fixed
// variable set rather than driven by ad-hoc string replacement, per the
// DESIGN NOTES instruction to model naming templates as a tiny AST.
package naming

import (
	"fmt"
	"strings"
)

// DefaultVersionedTemplate and DefaultCompatTemplate are the built-in
// templates used when a ToolSpec doesn't override them.
const (
	DefaultVersionedTemplate = "${name}-${version}-${os}-${arch}.${ext}"
	DefaultCompatTemplate    = "${name}-${os}-${arch}.${ext}"
)

// tokenKind distinguishes literal text from a substitution variable.
type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenVar
)

type token struct {
	kind tokenKind
	text string // literal text, or variable name without ${}
}

// Template is a parsed naming template: an ordered list of literal and
// variable tokens.
type Template struct {
	raw    string
	tokens []token
}

// knownVars is the fixed variable set templates may reference (spec.md
// §4.3).
var knownVars = map[string]bool{
	"name":          true,
	"version":       true,
	"os":            true,
	"arch":          true,
	"target":        true,
	"target_triple": true,
	"ext":           true,
}

// Parse tokenizes a template string, rejecting any ${...} reference outside
// the fixed variable set.
func Parse(tmpl string) (*Template, error) {
	t := &Template{raw: tmpl}
	i := 0
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			t.tokens = append(t.tokens, token{kind: tokenLiteral, text: lit.String()})
			lit.Reset()
		}
	}
	for i < len(tmpl) {
		if tmpl[i] == '$' && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			end := strings.IndexByte(tmpl[i+2:], '}')
			if end < 0 {
				return nil, fmt.Errorf("naming: unterminated variable reference in template %q", tmpl)
			}
			name := tmpl[i+2 : i+2+end]
			if !knownVars[name] {
				return nil, fmt.Errorf("naming: unknown variable %q in template %q", name, tmpl)
			}
			flushLit()
			t.tokens = append(t.tokens, token{kind: tokenVar, text: name})
			i += 2 + end + 1
			continue
		}
		lit.WriteByte(tmpl[i])
		i++
	}
	flushLit()
	return t, nil
}

// Vars holds the resolved value for every known template variable.
type Vars struct {
	Name         string
	Version      string
	OS           string
	Arch         string
	TargetTriple string
	Ext          string
}

// Target returns the "${os}-${arch}" derived value.
func (v Vars) Target() string {
	return v.OS + "-" + v.Arch
}

// Render substitutes every variable token with its resolved value.
func (t *Template) Render(v Vars) string {
	var sb strings.Builder
	for _, tok := range t.tokens {
		switch tok.kind {
		case tokenLiteral:
			sb.WriteString(tok.text)
		case tokenVar:
			switch tok.text {
			case "name":
				sb.WriteString(v.Name)
			case "version":
				sb.WriteString(v.Version)
			case "os":
				sb.WriteString(v.OS)
			case "arch":
				sb.WriteString(v.Arch)
			case "target":
				sb.WriteString(v.Target())
			case "target_triple":
				sb.WriteString(v.TargetTriple)
			case "ext":
				sb.WriteString(v.Ext)
			}
		}
	}
	return sb.String()
}

// usesVar reports whether the template references the given variable.
func (t *Template) usesVar(name string) bool {
	for _, tok := range t.tokens {
		if tok.kind == tokenVar && tok.text == name {
			return true
		}
	}
	return false
}

// StripLeadingV strips a single leading 'v' from a version string, per
// spec.md §4.3.
func StripLeadingV(version string) string {
	if strings.HasPrefix(version, "v") || strings.HasPrefix(version, "V") {
		return version[1:]
	}
	return version
}

// Input is the full set of inputs to a single naming resolution.
type Input struct {
	Tool             string
	Version          string
	OS               string
	Arch             string
	TargetTriple     string
	ArchiveExt       string // e.g. "tar.gz", "zip", "" for raw binary, "exe" for raw windows binary
	VersionedTmpl    string // empty selects DefaultVersionedTemplate
	CompatTmpl       string // empty selects DefaultCompatTemplate
}

// Result is the dual name produced for one Input.
type Result struct {
	Versioned string
	Compat    string
	Same      bool
}

// Resolve is the naming engine's pure function: (tool, version, os, arch,
// archive_ext, optional target_triple, templates) -> (versioned, compat,
// same).
func Resolve(in Input) (*Result, error) {
	versionedTmplStr := in.VersionedTmpl
	if versionedTmplStr == "" {
		versionedTmplStr = DefaultVersionedTemplate
	}
	compatTmplStr := in.CompatTmpl
	if compatTmplStr == "" {
		compatTmplStr = DefaultCompatTemplate
	}

	versionedTmpl, err := Parse(versionedTmplStr)
	if err != nil {
		return nil, err
	}
	compatTmpl, err := Parse(compatTmplStr)
	if err != nil {
		return nil, err
	}

	vars := Vars{
		Name:         in.Tool,
		Version:      StripLeadingV(in.Version),
		OS:           in.OS,
		Arch:         in.Arch,
		TargetTriple: in.TargetTriple,
		Ext:          in.ArchiveExt,
	}

	versioned := versionedTmpl.Render(vars)
	compat := compatTmpl.Render(vars)

	return &Result{
		Versioned: versioned,
		Compat:    compat,
		Same:      versioned == compat,
	}, nil
}
