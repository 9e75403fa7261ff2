package docgen

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invopop/jsonschema"
)

func TestRenderMarkdownConfigSchema(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	md := buf.String()
	if md == "" {
		t.Fatal("empty markdown output")
	}
	if !strings.HasPrefix(md, "# Overcode Configuration\n") {
		t.Error("missing title heading")
	}
	if !strings.Contains(md, "Auto-generated") {
		t.Error("missing auto-generated note")
	}

	for _, section := range []string{"## Config", "## Monitor", "## Supervisor", "## Federation", "## Peer"} {
		if !strings.Contains(md, section) {
			t.Errorf("missing section %q", section)
		}
	}

	// The root type renders first, the rest alphabetically.
	configIdx := strings.Index(md, "## Config")
	agentIdx := strings.Index(md, "## Agent")
	webIdx := strings.Index(md, "## Web")
	if configIdx > agentIdx {
		t.Error("Config section should come before Agent section")
	}
	if agentIdx > webIdx {
		t.Error("Agent section should come before Web section")
	}
}

func TestRenderMarkdownTableFormat(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	// Every table row carries the same five columns.
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.HasPrefix(line, "|") {
			continue
		}
		pipes := strings.Count(line, "|")
		escaped := strings.Count(line, "\\|")
		if actual := pipes - escaped; actual != 6 {
			t.Errorf("table row has %d columns (expected 5): %s", actual-1, line)
		}
	}
}

func TestRenderMarkdownRequiredFields(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	md := buf.String()
	if !strings.Contains(md, "| `name` | string | **yes**") {
		t.Error("Peer.name not marked as required in markdown")
	}
	if !strings.Contains(md, "| `url` | string | **yes**") {
		t.Error("Peer.url not marked as required in markdown")
	}
}

func TestRenderMarkdownEnumValues(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	md := buf.String()
	if !strings.Contains(md, "`tmux`") || !strings.Contains(md, "`kubernetes`") {
		t.Error("multiplexer backend enum values not shown in markdown")
	}
}

func TestRenderMarkdownSessionSchema(t *testing.T) {
	s, err := GenerateSessionSchema()
	if err != nil {
		t.Fatalf("GenerateSessionSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	md := buf.String()
	for _, section := range []string{"## Session", "## Heartbeat", "## Stats"} {
		if !strings.Contains(md, section) {
			t.Errorf("missing section %q", section)
		}
	}
	// Type column resolves $ref properties to their definition names.
	if !strings.Contains(md, "| Stats |") {
		t.Error("stats field type not rendered as Stats")
	}
}

func TestRenderMarkdownTitleFallback(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, &jsonschema.Schema{}); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# Configuration Reference\n") {
		t.Errorf("missing fallback title, got %q", buf.String())
	}
}

func TestWriteMarkdown(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.md")
	if err := WriteMarkdown(path, s); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Overcode Configuration\n") {
		t.Error("written file missing title")
	}

	// The temp file is renamed into place, not left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file in output dir, found %d", len(entries))
	}
}
