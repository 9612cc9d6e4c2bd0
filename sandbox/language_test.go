package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codelab/config"
)

func TestGetCodeFileName(t *testing.T) {
	tests := []struct {
		language string
		expected string
		hasError bool
	}{
		{"python", "main.py", false},
		{"nodejs", "index.js", false},
		{"go", "main.go", false},
		{"cpp", "main.cpp", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			result, err := GetCodeFileName(tt.language)
			if tt.hasError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestApplyHooks(t *testing.T) {
	assert.Equal(t, "x = 1", ApplyHooks("x = 1", LanguageSpec{}))
	assert.Equal(t, "import os\nx = 1\nprint(x)", ApplyHooks("x = 1", LanguageSpec{PrefixCode: "import os", PostfixCode: "print(x)"}))
}

func TestPackageCheck(t *testing.T) {
	program, err := PackageCheck(LanguagePython, []string{"numpy", "pandas"})
	require.NoError(t, err)
	assert.Equal(t, "import numpy, pandas\n", program)

	program, err = PackageCheck(LanguageNodeJS, []string{"lodash"})
	require.NoError(t, err)
	assert.Equal(t, "require(\"lodash\");\n", program)

	program, err = PackageCheck(LanguageGo, nil)
	require.NoError(t, err)
	assert.Empty(t, program)

	_, err = PackageCheck(LanguageGo, []string{"golang.org/x/exp"})
	require.Error(t, err)
}

func TestEnviron(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, Environ(map[string]string{"B": "2", "A": "1"}))
	assert.Empty(t, Environ(nil))
}

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			Language:       "python",
			MemoryMB:       512,
			NetworkEnabled: true,
			MaxOutputKB:    2,
			Packages:       []string{"numpy"},
		},
		Languages: map[string]config.Language{
			"python": {Image: "python:3.12", RunCmd: "python3 main.py", Environment: map[string]string{"X": "1"}},
		},
	}

	rc := NewConfig(cfg)
	assert.Equal(t, "python", rc.Language.Name)
	assert.Equal(t, "python:3.12", rc.Language.Image)
	assert.Equal(t, "python3 main.py", rc.Language.RunCmd)
	assert.Equal(t, map[string]string{"X": "1"}, rc.Language.Env)
	assert.Equal(t, []string{"numpy"}, rc.Packages)
	assert.Equal(t, 512, rc.MemoryMB)
	assert.True(t, rc.NetworkEnabled)
	assert.Equal(t, 2048, rc.MaxOutputBytes)
}
