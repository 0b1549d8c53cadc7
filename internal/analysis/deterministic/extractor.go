// Package deterministic implements the cheap regex-based pre-pass that runs
// ahead of the oracle: unambiguous import/require patterns never need LLM
// confirmation to enter evidence, so they're extracted here and tagged
// evidence_source=deterministic before a file is ever handed to C4.
package deterministic

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// ImportReference is one raw import/require target found in a file's
// source text. RawTarget is exactly what the source wrote (a module
// specifier, a relative path, a package path) — resolving it to another
// file's POI is the caller's job, since that requires knowledge of the
// whole tree's layout that a pure text extractor shouldn't need.
type ImportReference struct {
	RawTarget        string
	RelationshipType string
	Confidence       float64
}

// pattern pairs a lookaround-qualified regexp2 expression with the
// relationship type it signals and the capture group holding the target.
type pattern struct {
	re      *regexp2.Regexp
	relType string
}

// patterns covers the import/require forms common enough across
// JS/TS/Python/Go/Java source to be unambiguous without oracle
// confirmation. Every expression anchors on a line start and uses a
// negative lookahead to reject commented-out lines — lookahead stdlib
// regexp (RE2) cannot express, which is the reason this package reaches
// for regexp2 instead.
var patterns = []pattern{
	{mustCompile(`(?m)^(?!\s*(?://|#|\*))\s*import\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`), "import"},
	{mustCompile(`(?m)^(?!\s*(?://|#))\s*(?:const|let|var)?\s*[\w{}\s,]*=?\s*require\(\s*['"]([^'"]+)['"]\s*\)`), "import"},
	{mustCompile(`(?m)^(?!\s*#)\s*from\s+([\w.]+)\s+import\s+`), "import"},
	{mustCompile(`(?m)^(?!\s*//)\s*import\s+"([^"]+)"`), "import"},
	{mustCompile(`(?m)^(?!\s*//)\s*import\s+([\w.]+)\s*;`), "import"},
}

func mustCompile(expr string) *regexp2.Regexp {
	return regexp2.MustCompile(expr, regexp2.None)
}

// Extract scans content and returns every deterministic import reference it
// finds, deduplicated by (target, relationship type).
func Extract(content string) []ImportReference {
	seen := make(map[string]bool)
	var out []ImportReference

	for _, p := range patterns {
		m, err := p.re.FindStringMatch(content)
		for err == nil && m != nil {
			groups := m.Groups()
			if len(groups) > 1 {
				target := strings.TrimSpace(groups[1].String())
				if target != "" {
					key := p.relType + "|" + target
					if !seen[key] {
						seen[key] = true
						out = append(out, ImportReference{
							RawTarget:        target,
							RelationshipType: p.relType,
							Confidence:       1.0,
						})
					}
				}
			}
			m, err = p.re.FindNextMatch(m)
		}
	}
	return out
}
