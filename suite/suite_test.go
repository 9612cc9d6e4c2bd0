package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codelab/harness"
)

const addSuite = `id: add
name: Add two numbers
description: Implement add(a, b).
tests:
  - id: small
    input: print(add(1, 2))
    expected: "3"
  - id: hidden-negative
    input: print(add(-1, -2))
    expected: "-3"
    hidden: true
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(addSuite))
	require.NoError(t, err)

	assert.Equal(t, "add", s.ID)
	assert.Equal(t, "Add two numbers", s.Name)
	assert.Equal(t, []harness.TestCase{
		{ID: "small", Input: "print(add(1, 2))", ExpectedOutput: "3"},
		{ID: "hidden-negative", Input: "print(add(-1, -2))", ExpectedOutput: "-3", Hidden: true},
	}, s.Tests)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"no id", "name: x\n", "suite id must not be empty"},
		{"missing test id", "id: s\ntests:\n  - input: x\n", "has no id"},
		{"duplicate test id", "id: s\ntests:\n  - id: a\n    input: x\n  - id: a\n    input: y\n", "duplicate test id"},
		{"empty input", "id: s\ntests:\n  - id: a\n    input: \"  \"\n", "has no input"},
		{"bad yaml", "id: [unclosed\n", "failed to parse suite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "add.yaml"), []byte(addSuite), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.yml"), []byte("id: echo\ntests:\n  - id: a\n    input: print('a')\n    expected: a\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a suite"), 0o600))

	r, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "echo"}, r.IDs())

	s, err := r.Get("echo")
	require.NoError(t, err)
	assert.Len(t, s.Tests, 1)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDirDuplicateSuite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(addSuite), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(addSuite), 0o600))

	_, err := LoadDir(dir)
	require.ErrorContains(t, err, "duplicate suite id")
}

func TestLoadDirEmptyPath(t *testing.T) {
	r, err := LoadDir("")
	require.NoError(t, err)
	assert.Empty(t, r.IDs())

	_, err = LoadDir(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
