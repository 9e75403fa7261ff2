package docgen

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RenderCLIMarkdown writes a CLI reference by walking a cobra command
// tree. Hidden commands are skipped. Each command gets an H2 section
// with synopsis, examples, a local-flags table, and a subcommands
// table; global flags render once up front.
func RenderCLIMarkdown(w io.Writer, root *cobra.Command) error {
	md := &mdWriter{w: w}
	md.printf("# CLI Reference\n\n")
	md.printf(autogenNote)

	renderGlobalFlags(md, root)
	walkCommands(md, root)
	return md.err
}

// WriteCLIMarkdown writes the CLI reference to a file atomically.
func WriteCLIMarkdown(path string, root *cobra.Command) error {
	return writeAtomic(path, ".gendoc-cli-*", func(w io.Writer) error {
		return RenderCLIMarkdown(w, root)
	})
}

// walkCommands renders cmd and recurses into its visible children.
func walkCommands(md *mdWriter, cmd *cobra.Command) {
	renderCommand(md, cmd)
	for _, child := range cmd.Commands() {
		if child.Hidden {
			continue
		}
		walkCommands(md, child)
	}
}

// renderCommand renders a single command section.
func renderCommand(md *mdWriter, cmd *cobra.Command) {
	md.printf("## %s\n\n", cmd.CommandPath())

	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	if desc != "" {
		md.printf("%s\n\n", strings.TrimSpace(desc))
	}

	md.printf("```\n%s\n```\n\n", cmd.UseLine())

	if cmd.Example != "" {
		md.printf("**Example:**\n\n```\n%s\n```\n\n", strings.TrimSpace(cmd.Example))
	}

	renderFlagsTable(md, cmd.LocalNonPersistentFlags())
	renderSubcommandsTable(md, cmd)
}

// renderGlobalFlags renders the persistent flags section from root.
func renderGlobalFlags(md *mdWriter, root *cobra.Command) {
	flags := collectFlags(root.PersistentFlags())
	if len(flags) == 0 {
		return
	}
	md.printf("## Global Flags\n\n")
	writeFlagTable(md, flags)
}

// flagInfo holds rendered flag metadata.
type flagInfo struct {
	Name    string
	Type    string
	Default string
	Desc    string
}

// collectFlags extracts display info for each visible flag.
func collectFlags(fs *pflag.FlagSet) []flagInfo {
	var flags []flagInfo
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		name := "`--" + f.Name + "`"
		if f.Shorthand != "" {
			name = "`-" + f.Shorthand + "`, `--" + f.Name + "`"
		}
		defVal := ""
		if !isZeroDefault(f.DefValue, f.Value.Type()) {
			defVal = "`" + f.DefValue + "`"
		}
		flags = append(flags, flagInfo{
			Name:    name,
			Type:    f.Value.Type(),
			Default: defVal,
			Desc:    strings.ReplaceAll(f.Usage, "|", "\\|"),
		})
	})
	return flags
}

// isZeroDefault reports whether val is the zero value for its flag type.
func isZeroDefault(val, typ string) bool {
	switch typ {
	case "bool":
		return val == "false"
	case "int", "int32", "int64", "uint", "uint32", "uint64", "float32", "float64":
		return val == "0"
	case "string":
		return val == ""
	case "stringSlice", "stringArray":
		return val == "[]"
	default:
		return val == ""
	}
}

// renderFlagsTable renders local non-persistent flags, if any.
func renderFlagsTable(md *mdWriter, fs *pflag.FlagSet) {
	flags := collectFlags(fs)
	if len(flags) == 0 {
		return
	}
	writeFlagTable(md, flags)
}

// writeFlagTable writes the markdown table for a slice of flags.
func writeFlagTable(md *mdWriter, flags []flagInfo) {
	md.printf("| Flag | Type | Default | Description |\n")
	md.printf("|------|------|---------|-------------|\n")
	for _, f := range flags {
		md.printf("| %s | %s | %s | %s |\n", f.Name, f.Type, f.Default, f.Desc)
	}
	md.printf("\n")
}

// renderSubcommandsTable links each visible child with its summary.
func renderSubcommandsTable(md *mdWriter, cmd *cobra.Command) {
	var children []*cobra.Command
	for _, c := range cmd.Commands() {
		if !c.Hidden {
			children = append(children, c)
		}
	}
	if len(children) == 0 {
		return
	}

	md.printf("| Subcommand | Description |\n")
	md.printf("|------------|-------------|\n")
	for _, c := range children {
		anchor := strings.ToLower(strings.ReplaceAll(c.CommandPath(), " ", "-"))
		md.printf("| [%s](#%s) | %s |\n", c.CommandPath(), anchor, c.Short)
	}
	md.printf("\n")
}
