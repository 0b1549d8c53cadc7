package deterministic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract_JSImportFrom(t *testing.T) {
	refs := Extract("import { add } from './b.js'\nconsole.log(add(1,2))\n")
	require.Len(t, refs, 1)
	require.Equal(t, "./b.js", refs[0].RawTarget)
	require.Equal(t, "import", refs[0].RelationshipType)
}

func TestExtract_CommonJSRequire(t *testing.T) {
	refs := Extract("const b = require('./b.js')\n")
	require.Len(t, refs, 1)
	require.Equal(t, "./b.js", refs[0].RawTarget)
}

func TestExtract_PythonFromImport(t *testing.T) {
	refs := Extract("from pkg.mod import thing\n")
	require.Len(t, refs, 1)
	require.Equal(t, "pkg.mod", refs[0].RawTarget)
}

func TestExtract_GoImport(t *testing.T) {
	refs := Extract(`import "fmt"` + "\n")
	require.Len(t, refs, 1)
	require.Equal(t, "fmt", refs[0].RawTarget)
}

func TestExtract_JavaImport(t *testing.T) {
	refs := Extract("import java.util.List;\n")
	require.Len(t, refs, 1)
	require.Equal(t, "java.util.List", refs[0].RawTarget)
}

func TestExtract_IgnoresCommentedOutImports(t *testing.T) {
	refs := Extract("// import { add } from './b.js'\n# import os\n")
	require.Empty(t, refs)
}

func TestExtract_DeduplicatesRepeatedImports(t *testing.T) {
	refs := Extract("import './b.js'\nimport './b.js'\n")
	require.Len(t, refs, 1)
}

func TestExtract_NoMatchesReturnsEmpty(t *testing.T) {
	refs := Extract("just plain text with no imports at all")
	require.Empty(t, refs)
}
