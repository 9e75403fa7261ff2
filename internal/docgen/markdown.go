package docgen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// autogenNote heads every generated document.
const autogenNote = "> **Auto-generated** — do not edit. Run `oc gendoc` to regenerate.\n\n"

// mdWriter wraps an io.Writer and latches the first write error, so
// renderers can print unconditionally and report once at the end.
type mdWriter struct {
	w   io.Writer
	err error
}

func (m *mdWriter) printf(format string, args ...any) {
	if m.err != nil {
		return
	}
	_, m.err = fmt.Fprintf(m.w, format, args...)
}

// RenderMarkdown writes a markdown reference document from a JSON
// Schema: one section per $defs type, each with a field table. The
// root type renders first, the rest alphabetically.
func RenderMarkdown(w io.Writer, s *jsonschema.Schema) error {
	md := &mdWriter{w: w}

	title := s.Title
	if title == "" {
		title = "Configuration Reference"
	}
	md.printf("# %s\n\n", title)
	if s.Description != "" {
		md.printf("%s\n\n", s.Description)
	}
	md.printf(autogenNote)

	if s.Definitions == nil {
		return md.err
	}

	// "#/$defs/Config" → "Config".
	rootName := ""
	if s.Ref != "" {
		parts := strings.Split(s.Ref, "/")
		rootName = parts[len(parts)-1]
	}

	names := make([]string, 0, len(s.Definitions))
	for name := range s.Definitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == rootName {
			return true
		}
		if names[j] == rootName {
			return false
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		def := s.Definitions[name]
		if def == nil || def.Properties == nil {
			continue
		}
		renderTypeSection(md, name, def)
	}
	return md.err
}

// renderTypeSection writes one H2 section with the field table for a
// single $defs entry.
func renderTypeSection(md *mdWriter, name string, def *jsonschema.Schema) {
	md.printf("## %s\n\n", name)
	if def.Description != "" {
		md.printf("%s\n\n", def.Description)
	}

	required := make(map[string]bool, len(def.Required))
	for _, r := range def.Required {
		required[r] = true
	}

	md.printf("| Field | Type | Required | Default | Description |\n")
	md.printf("|-------|------|----------|---------|-------------|\n")
	for pair := def.Properties.Oldest(); pair != nil; pair = pair.Next() {
		req := ""
		if required[pair.Key] {
			req = "**yes**"
		}
		md.printf("| `%s` | %s | %s | %s | %s |\n",
			pair.Key, schemaTypeString(pair.Value), req,
			formatDefault(pair.Value), formatDescription(pair.Value))
	}
	md.printf("\n")
}

// WriteMarkdown generates a markdown file from a schema, writing a
// sibling temp file and renaming it into place.
func WriteMarkdown(path string, s *jsonschema.Schema) error {
	return writeAtomic(path, ".gendoc-md-*", func(w io.Writer) error {
		return RenderMarkdown(w, s)
	})
}

// writeAtomic renders into a temp file in path's directory and renames
// it over path, removing the temp file on any failure.
func writeAtomic(path, tmpPattern string, render func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tmpPattern)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if err := render(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}

// schemaTypeString returns a human-readable type string for a property.
func schemaTypeString(prop *jsonschema.Schema) string {
	if prop.Ref != "" {
		return refName(prop.Ref)
	}
	switch prop.Type {
	case "array":
		if prop.Items != nil {
			if prop.Items.Ref != "" {
				return "[]" + refName(prop.Items.Ref)
			}
			return "[]" + prop.Items.Type
		}
		return "array"
	case "object":
		if prop.AdditionalProperties != nil {
			val := prop.AdditionalProperties
			if val.Ref != "" {
				return "map[string]" + refName(val.Ref)
			}
			return "map[string]" + val.Type
		}
		return "object"
	default:
		if prop.Type != "" {
			return prop.Type
		}
		return "any"
	}
}

// refName extracts the type name from a $ref like "#/$defs/Session".
func refName(ref string) string {
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

// formatDefault returns the default value as a string, or empty.
func formatDefault(prop *jsonschema.Schema) string {
	if prop.Default != nil {
		return fmt.Sprintf("`%v`", prop.Default)
	}
	return ""
}

// formatDescription flattens the description for a markdown table
// cell, appending enum values when present.
func formatDescription(prop *jsonschema.Schema) string {
	desc := prop.Description
	if len(prop.Enum) > 0 {
		vals := make([]string, len(prop.Enum))
		for i, v := range prop.Enum {
			vals[i] = fmt.Sprintf("`%v`", v)
		}
		enumStr := "Enum: " + strings.Join(vals, ", ")
		if desc != "" {
			desc += " " + enumStr
		} else {
			desc = enumStr
		}
	}
	desc = strings.ReplaceAll(desc, "\n", " ")
	desc = strings.ReplaceAll(desc, "|", "\\|")
	return desc
}
