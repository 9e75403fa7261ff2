package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/docgen"
)

// newGenDocCmd creates the hidden "oc gendoc" subcommand. It regenerates
// everything under docs/ that is derived from source: the JSON schemas
// for overcode.toml and the on-disk state documents, the config
// reference, and the CLI reference walked from the live command tree.
// Must run from the repository root (go.mod must exist).
func newGenDocCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:    "gendoc",
		Short:  "Regenerate schemas and reference documentation",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if doGenDoc(cmd.Root(), stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doGenDoc(root *cobra.Command, stdout, stderr io.Writer) int {
	if _, err := os.Stat("go.mod"); err != nil {
		fmt.Fprintf(stderr, "oc gendoc: must run from repository root (go.mod not found)\n") //nolint:errcheck // best-effort stderr
		return 1
	}

	for _, dir := range []string{"docs/schema", "docs/reference"} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(stderr, "oc gendoc: creating %s: %v\n", dir, err) //nolint:errcheck // best-effort stderr
			return 1
		}
	}

	configSchema, err := docgen.GenerateConfigSchema()
	if err != nil {
		fmt.Fprintf(stderr, "oc gendoc: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	sessionSchema, err := docgen.GenerateSessionSchema()
	if err != nil {
		fmt.Fprintf(stderr, "oc gendoc: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	monitorSchema, err := docgen.GenerateMonitorSchema()
	if err != nil {
		fmt.Fprintf(stderr, "oc gendoc: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	outputs := []struct {
		path  string
		write func(string) error
	}{
		{"docs/schema/config-schema.json", func(p string) error { return writeSchemaJSON(p, configSchema) }},
		{"docs/schema/session-schema.json", func(p string) error { return writeSchemaJSON(p, sessionSchema) }},
		{"docs/schema/monitor-schema.json", func(p string) error { return writeSchemaJSON(p, monitorSchema) }},
		{"docs/reference/config.md", func(p string) error { return docgen.WriteMarkdown(p, configSchema) }},
		{"docs/reference/cli.md", func(p string) error { return docgen.WriteCLIMarkdown(p, root) }},
	}
	for _, out := range outputs {
		if err := out.write(out.path); err != nil {
			fmt.Fprintf(stderr, "oc gendoc: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
		fmt.Fprintf(stdout, "Generated: %s\n", out.path) //nolint:errcheck // best-effort stdout
	}
	return 0
}

// writeSchemaJSON writes a schema as two-space-indented JSON with a
// trailing newline.
func writeSchemaJSON(path string, s *jsonschema.Schema) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
