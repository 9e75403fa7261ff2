package docgen

import (
	"encoding/json"
	"testing"
)

// schemaDefs marshals a schema and returns its $defs map.
func schemaDefs(t *testing.T, s any) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	defs, ok := raw["$defs"].(map[string]interface{})
	if !ok {
		t.Fatal("no $defs")
	}
	return defs
}

// defProperties extracts the properties map for a named $defs entry.
func defProperties(t *testing.T, defs map[string]interface{}, defName string) map[string]interface{} {
	t.Helper()
	def, ok := defs[defName].(map[string]interface{})
	if !ok {
		t.Fatalf("no %s definition in $defs", defName)
	}
	props, ok := def["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("%s has no properties", defName)
	}
	return props
}

func TestGenerateConfigSchema(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}
	if s.Title != "Overcode Configuration" {
		t.Errorf("title: got %q", s.Title)
	}

	defs := schemaDefs(t, s)
	for _, def := range []string{
		"Config", "Monitor", "Supervisor", "Web", "Agent", "Prices",
		"Office", "Notify", "Archive", "Multiplexer", "Federation", "Peer",
	} {
		if _, ok := defs[def]; !ok {
			t.Errorf("missing $defs entry %q", def)
		}
	}

	// Config properties use TOML names (schema puts the root in $defs).
	props := defProperties(t, defs, "Config")
	for _, expected := range []string{"group", "monitor", "supervisor", "web", "federation"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Config property %q", expected)
		}
	}
	for _, bad := range []string{"Group", "Monitor", "Supervisor"} {
		if _, ok := props[bad]; ok {
			t.Errorf("found Go-style property %q, expected TOML name", bad)
		}
	}
}

func TestConfigSchemaPeerRequired(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	defs := schemaDefs(t, s)
	peer, ok := defs["Peer"].(map[string]interface{})
	if !ok {
		t.Fatal("no Peer definition")
	}
	required, ok := peer["required"].([]interface{})
	if !ok {
		t.Fatal("Peer missing required array")
	}
	want := map[string]bool{"name": false, "url": false}
	for _, r := range required {
		name, _ := r.(string)
		if _, tracked := want[name]; tracked {
			want[name] = true
		} else if name == "api_key" {
			t.Error("api_key should be optional")
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Peer %q not in required list", name)
		}
	}
}

func TestConfigSchemaEnums(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	defs := schemaDefs(t, s)
	props := defProperties(t, defs, "Multiplexer")
	backend, ok := props["backend"].(map[string]interface{})
	if !ok {
		t.Fatal("backend property not a map")
	}
	enum, ok := backend["enum"].([]interface{})
	if !ok || len(enum) != 2 {
		t.Fatalf("backend enum: got %v", backend["enum"])
	}
	if enum[0] != "tmux" || enum[1] != "kubernetes" {
		t.Errorf("backend enum values: got %v", enum)
	}
}

func TestConfigSchemaDescriptions(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	defs := schemaDefs(t, s)
	archive, ok := defs["Archive"].(map[string]interface{})
	if !ok {
		t.Fatal("no Archive definition")
	}
	desc, ok := archive["description"].(string)
	if !ok || desc == "" {
		t.Error("Archive has no description — AddGoComments may not be extracting comments")
	}
}

func TestGenerateSessionSchema(t *testing.T) {
	s, err := GenerateSessionSchema()
	if err != nil {
		t.Fatalf("GenerateSessionSchema: %v", err)
	}
	if s.Title != "Agent Session" {
		t.Errorf("title: got %q", s.Title)
	}

	defs := schemaDefs(t, s)
	for _, def := range []string{"Session", "Heartbeat", "Stats"} {
		if _, ok := defs[def]; !ok {
			t.Errorf("missing $defs entry %q", def)
		}
	}

	props := defProperties(t, defs, "Session")
	for _, expected := range []string{"id", "name", "multiplexer_window", "start_time", "status", "stats"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Session property %q", expected)
		}
	}

	// stats points at the Stats definition.
	stats, ok := props["stats"].(map[string]interface{})
	if !ok {
		t.Fatal("stats property not a map")
	}
	if ref, _ := stats["$ref"].(string); ref != "#/$defs/Stats" {
		t.Errorf("stats $ref: got %q", ref)
	}

	// status is a named string type, inlined rather than referenced.
	status, ok := props["status"].(map[string]interface{})
	if !ok {
		t.Fatal("status property not a map")
	}
	if status["type"] != "string" {
		t.Errorf("status type: got %v, want string", status["type"])
	}
}

func TestGenerateMonitorSchema(t *testing.T) {
	s, err := GenerateMonitorSchema()
	if err != nil {
		t.Fatalf("GenerateMonitorSchema: %v", err)
	}
	if s.Title != "Monitor State" {
		t.Errorf("title: got %q", s.Title)
	}

	defs := schemaDefs(t, s)
	for _, def := range []string{"MonitorState", "AgentSnapshot", "Aggregate", "PeerState", "Heartbeat"} {
		if _, ok := defs[def]; !ok {
			t.Errorf("missing $defs entry %q", def)
		}
	}

	props := defProperties(t, defs, "MonitorState")
	agents, ok := props["agents"].(map[string]interface{})
	if !ok {
		t.Fatal("agents property not a map")
	}
	if agents["type"] != "array" {
		t.Errorf("agents type: got %v, want array", agents["type"])
	}
	items, ok := agents["items"].(map[string]interface{})
	if !ok {
		t.Fatal("agents missing items")
	}
	if ref, _ := items["$ref"].(string); ref != "#/$defs/AgentSnapshot" {
		t.Errorf("agents items $ref: got %q", ref)
	}

	// peers is keyed by peer name.
	peers, ok := props["peers"].(map[string]interface{})
	if !ok {
		t.Fatal("peers property not a map")
	}
	ap, ok := peers["additionalProperties"].(map[string]interface{})
	if !ok {
		t.Fatal("peers missing additionalProperties")
	}
	if ref, _ := ap["$ref"].(string); ref != "#/$defs/PeerState" {
		t.Errorf("peers additionalProperties $ref: got %q", ref)
	}
}

func TestModuleRoot(t *testing.T) {
	root, err := ModuleRoot()
	if err != nil {
		t.Fatalf("ModuleRoot: %v", err)
	}
	if root == "" {
		t.Fatal("empty module root")
	}
}
