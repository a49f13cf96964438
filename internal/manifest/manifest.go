// SPDX-License-Identifier: MPL-2.0

// Package manifest parses pip-style dependency manifests (requirements.txt).
// The provisioner never installs packages itself — pip does that inside the
// image build — but parsing up front lets lakeprov fail on malformed or
// conflicting requirements before paying for a container build, and gives
// the verifier the exact pins to assert afterwards.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrManifestMissing is returned when the manifest file does not exist in
// the build context.
var ErrManifestMissing = errors.New("dependency manifest not found")

// constraint operators in match order: two-character operators first so
// "==" is not misread as "=".
var constraintOps = []string{"==", "~=", ">=", "<=", "!=", ">", "<"}

type (
	// Requirement is a single parsed manifest line.
	Requirement struct {
		// Name is the normalized (lowercased) package name.
		Name string
		// Extras are the optional extras from "name[extra1,extra2]".
		Extras []string
		// Op is the version constraint operator ("==", ">=", ...), empty
		// when the requirement is unconstrained.
		Op string
		// Version is the constraint version, empty when unconstrained.
		Version string
		// Raw is the original line, preserved verbatim.
		Raw string
		// Line is the 1-based line number in the manifest file.
		Line int
	}

	// Manifest is an ordered dependency manifest.
	Manifest struct {
		// Path is the file the manifest was loaded from, when applicable.
		Path string
		// Requirements preserves the file order.
		Requirements []Requirement
		// Directives are pip option lines (e.g., "--index-url ..."), passed
		// through to pip untouched.
		Directives []string
	}
)

// IsPinned reports whether the requirement pins an exact version.
func (r Requirement) IsPinned() bool {
	return r.Op == "=="
}

// String renders the requirement in canonical pip form.
func (r Requirement) String() string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	if len(r.Extras) > 0 {
		sb.WriteString("[")
		sb.WriteString(strings.Join(r.Extras, ","))
		sb.WriteString("]")
	}
	if r.Op != "" {
		sb.WriteString(r.Op)
		sb.WriteString(r.Version)
	}
	return sb.String()
}

// Load reads and parses a manifest file. A missing file returns
// ErrManifestMissing so callers can distinguish it from parse failures.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse parses manifest content: one requirement per line, "#" comments,
// blank lines, and optional version constraints. Conflicting duplicate
// entries are rejected; identical duplicates are collapsed to the first
// occurrence.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	seen := make(map[string]Requirement)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// pip option lines are passed through, not interpreted.
		if strings.HasPrefix(line, "-") {
			m.Directives = append(m.Directives, line)
			continue
		}

		req, err := parseRequirement(line, lineNo)
		if err != nil {
			return nil, err
		}
		req.Raw = raw

		if prev, dup := seen[req.Name]; dup {
			if prev.Op == req.Op && prev.Version == req.Version {
				continue
			}
			return nil, fmt.Errorf("line %d: conflicting requirements for %q: %s (line %d) vs %s",
				lineNo, req.Name, prev.String(), prev.Line, req.String())
		}

		seen[req.Name] = req
		m.Requirements = append(m.Requirements, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return m, nil
}

// Pinned returns the requirements with exact version pins, in file order.
func (m *Manifest) Pinned() []Requirement {
	var pinned []Requirement
	for _, r := range m.Requirements {
		if r.IsPinned() {
			pinned = append(pinned, r)
		}
	}
	return pinned
}

// Names returns the package names in file order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Requirements))
	for _, r := range m.Requirements {
		names = append(names, r.Name)
	}
	return names
}

func parseRequirement(line string, lineNo int) (Requirement, error) {
	req := Requirement{Line: lineNo}

	rest := line
	for _, op := range constraintOps {
		if idx := strings.Index(rest, op); idx >= 0 {
			req.Op = op
			req.Version = strings.TrimSpace(rest[idx+len(op):])
			rest = strings.TrimSpace(rest[:idx])
			break
		}
	}

	if req.Op != "" && req.Version == "" {
		return Requirement{}, fmt.Errorf("line %d: constraint %q has no version: %q", lineNo, req.Op, line)
	}

	// Extras: name[extra1,extra2]
	if open := strings.Index(rest, "["); open >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return Requirement{}, fmt.Errorf("line %d: unterminated extras in %q", lineNo, line)
		}
		for _, extra := range strings.Split(rest[open+1:len(rest)-1], ",") {
			extra = strings.TrimSpace(extra)
			if extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
		rest = rest[:open]
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Requirement{}, fmt.Errorf("line %d: missing package name: %q", lineNo, line)
	}
	if !validName(rest) {
		return Requirement{}, fmt.Errorf("line %d: invalid package name %q", lineNo, rest)
	}

	// PEP 503 normalization: names are case-insensitive.
	req.Name = strings.ToLower(rest)
	return req, nil
}

// stripComment removes a trailing "#" comment. A "#" only starts a comment
// at the beginning of the line or after whitespace, matching pip.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
			return line[:i]
		}
	}
	return line
}

// validName accepts PEP 508 names: alphanumerics with interior dots,
// hyphens, and underscores.
func validName(name string) bool {
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return len(name) > 0
}
