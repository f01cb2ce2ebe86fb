package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ManifestLoader loads and validates plugin manifests
type ManifestLoader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	schemaLoader := gojsonschema.NewStringLoader(ManifestSchema)
	return &ManifestLoader{
		logger:       logger.With().Str("component", "manifest-loader").Logger(),
		schemaLoader: schemaLoader,
	}
}

// LoadDir loads the manifest at the root of a plugin directory
func (m *ManifestLoader) LoadDir(dir string) (*PluginManifest, error) {
	return m.LoadManifest(filepath.Join(dir, ManifestFileName))
}

// LoadManifest loads and validates a manifest file. The entry point is
// checked against the directory containing the file.
func (m *ManifestLoader) LoadManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: KindValidation, Op: "read-manifest", Reason: "manifest not found", Path: path}
		}
		return nil, validationError("read-manifest", "failed to read manifest file", err)
	}

	manifest, err := m.Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Msg("Loaded manifest")

	return manifest, nil
}

// Parse decodes and validates manifest bytes for a plugin rooted at dir
func (m *ManifestLoader) Parse(data []byte, dir string) (*PluginManifest, error) {
	var manifest PluginManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, validationError("validate-manifest", "failed to parse manifest JSON", err)
	}

	if err := m.validateSchema(data); err != nil {
		return nil, withName(err, manifest.Name)
	}

	if err := ValidateManifest(&manifest, dir); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// validateSchema validates the manifest against the JSON schema
func (m *ManifestLoader) validateSchema(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(m.schemaLoader, documentLoader)
	if err != nil {
		return validationError("validate-manifest", "schema validation error", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, resErr := range result.Errors() {
			msgs = append(msgs, resErr.String())
		}
		return validationError("validate-manifest", "schema validation errors: "+strings.Join(msgs, "; "), nil)
	}

	return nil
}

// ValidateManifest performs the semantic checks that a schema cannot express
func ValidateManifest(manifest *PluginManifest, dir string) error {
	fail := func(kind ErrorKind, reason, path string) error {
		return &Error{Kind: kind, Op: "validate-manifest", Name: manifest.Name, Reason: reason, Path: path}
	}

	if !IsValidPluginName(manifest.Name) {
		return fail(KindValidation, fmt.Sprintf("invalid plugin name %q", manifest.Name), "")
	}

	if strings.TrimSpace(manifest.Version) == "" {
		return fail(KindValidation, "version cannot be empty", "")
	}

	if manifest.Main == "" {
		return fail(KindValidation, "main entry point cannot be empty", "")
	}
	if !IsPathSafe(dir, manifest.Main) {
		return fail(KindSecurity, "main entry point escapes the plugin directory", manifest.Main)
	}

	if len(manifest.Commands) == 0 {
		return fail(KindValidation, "commands cannot be empty", "")
	}
	seen := make(map[string]bool, len(manifest.Commands))
	for i, cmd := range manifest.Commands {
		if cmd == "" || strings.ContainsFunc(cmd, isSpace) {
			return fail(KindValidation, fmt.Sprintf("command %d: invalid name %q", i, cmd), "")
		}
		if seen[cmd] {
			return fail(KindValidation, fmt.Sprintf("command %q declared twice", cmd), "")
		}
		seen[cmd] = true
	}

	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

// ParseManifest decodes manifest bytes without validation. It is used to
// read the version of an install that is about to be replaced.
func ParseManifest(data []byte) (*PluginManifest, error) {
	var manifest PluginManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return &manifest, nil
}
