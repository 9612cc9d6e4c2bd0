package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/isdmx/codelab/config"
)

// LanguageName constants
const (
	LanguagePython = "python"
	LanguageNodeJS = "nodejs"
	LanguageGo     = "go"
	LanguageCPP    = "cpp"
)

// Filename constants
const (
	FilenamePython = "main.py"
	FilenameNodeJS = "index.js"
	FilenameGo     = "main.go"
	FilenameCPP    = "main.cpp"
)

// LanguageSpec describes how a runtime turns a code string into a running program.
type LanguageSpec struct {
	Name        string
	Image       string
	RunCmd      string // shell command run inside the program's directory
	CheckCmd    string // shell command proving the toolchain is present
	PrefixCode  string
	PostfixCode string
	Env         map[string]string
}

// Config holds the settings shared by all runtimes.
type Config struct {
	Language       LanguageSpec
	Packages       []string
	MemoryMB       int
	NetworkEnabled bool
	MaxOutputBytes int
}

// NewConfig extracts the runtime settings from the application configuration.
func NewConfig(cfg *config.Config) *Config {
	lang := cfg.ActiveLanguage()
	return &Config{
		Language: LanguageSpec{
			Name:        cfg.Sandbox.Language,
			Image:       lang.Image,
			RunCmd:      lang.RunCmd,
			CheckCmd:    lang.CheckCmd,
			PrefixCode:  lang.PrefixCode,
			PostfixCode: lang.PostfixCode,
			Env:         lang.Environment,
		},
		Packages:       cfg.Sandbox.Packages,
		MemoryMB:       cfg.Sandbox.MemoryMB,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		MaxOutputBytes: cfg.Sandbox.MaxOutputKB * BytesPerKB,
	}
}

// GetCodeFileName returns the appropriate filename based on the language
func GetCodeFileName(language string) (string, error) {
	switch language {
	case LanguagePython:
		return FilenamePython, nil
	case LanguageNodeJS:
		return FilenameNodeJS, nil
	case LanguageGo:
		return FilenameGo, nil
	case LanguageCPP:
		return FilenameCPP, nil
	default:
		return "", fmt.Errorf("unsupported language: %s", language)
	}
}

// ApplyHooks wraps code with the language's prefix and postfix code
func ApplyHooks(code string, spec LanguageSpec) string {
	if spec.PrefixCode == "" && spec.PostfixCode == "" {
		return code
	}
	return spec.PrefixCode + "\n" + code + "\n" + spec.PostfixCode
}

// PackageCheck returns a program that fails unless every package loads.
// An empty package list yields an empty program.
func PackageCheck(language string, packages []string) (string, error) {
	if len(packages) == 0 {
		return "", nil
	}

	switch language {
	case LanguagePython:
		return "import " + strings.Join(packages, ", ") + "\n", nil
	case LanguageNodeJS:
		var b strings.Builder
		for _, pkg := range packages {
			fmt.Fprintf(&b, "require(%q);\n", pkg)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("package preloading is not supported for %s", language)
	}
}

// Environ renders env as sorted KEY=VALUE pairs.
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(out)
	return out
}
