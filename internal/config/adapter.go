package config

import (
	"bytes"
	"encoding/json"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Format names a container configuration syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
	FormatJSON Format = "json"
)

// Adapter translates raw configuration into canonical Settings.
type Adapter interface {
	Translate(raw []byte) (Settings, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(raw []byte) (Settings, error)

// Translate calls f(raw).
func (f AdapterFunc) Translate(raw []byte) (Settings, error) {
	return f(raw)
}

// Adapters maps each format to its adapter.
var Adapters = map[Format]Adapter{
	FormatYAML: AdapterFunc(FromYAML),
	FormatCUE:  AdapterFunc(FromCUE),
	FormatJSON: AdapterFunc(FromJSON),
}

// ParseFormat resolves a format name or file extension.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "cue":
		return FormatCUE, nil
	case "json":
		return FormatJSON, nil
	}
	return "", &Error{Field: "format", Message: fmt.Sprintf("unsupported format %q", raw)}
}

// FormatFromPath derives the format of a configuration file from its extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Translate parses raw in the given format.
func Translate(format Format, raw []byte) (Settings, error) {
	a, ok := Adapters[format]
	if !ok {
		return Settings{}, &Error{Field: "format", Message: fmt.Sprintf("unsupported format %q", format)}
	}
	return a.Translate(raw)
}

// FromYAML parses YAML settings. Unknown fields are rejected.
func FromYAML(raw []byte) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, &Error{Field: "yaml", Message: err.Error()}
	}
	return s, nil
}

// FromJSON parses JSON settings, the persisted canonical form.
// Unknown fields are rejected.
func FromJSON(raw []byte) (Settings, error) {
	var s Settings
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, &Error{Field: "json", Message: err.Error()}
	}
	return s, nil
}

//go:embed settings.cue
var settingsSchema string

// FromCUE evaluates CUE settings against the #Settings definition.
// The input must be concrete; definitions are closed, so unknown fields
// are rejected.
func FromCUE(raw []byte) (Settings, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(settingsSchema, cue.Filename("settings.cue"))
	if err := schema.Err(); err != nil {
		return Settings{}, fmt.Errorf("compile settings schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))

	value := ctx.CompileBytes(raw, cue.Filename("config.cue"))
	if err := value.Err(); err != nil {
		return Settings{}, fromCUE(err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Settings{}, fromCUE(err)
	}

	var s Settings
	if err := unified.Decode(&s); err != nil {
		return Settings{}, fromCUE(err)
	}
	return s, nil
}

// Encode returns the canonical JSON form persisted by the director.
func Encode(s Settings) ([]byte, error) {
	data, err := MarshalCanonical(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return data, nil
}
