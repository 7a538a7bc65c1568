package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Printer handles all display output for the CLI.
type Printer struct {
	JSON    bool
	Verbose bool
	Writer  io.Writer
}

// NewPrinter creates a default Printer writing to stdout.
func NewPrinter(jsonMode, verbose bool) *Printer {
	return &Printer{JSON: jsonMode, Verbose: verbose, Writer: os.Stdout}
}

// PrintMetadata renders a Metadata struct to the configured output.
func (p *Printer) PrintMetadata(m *Metadata) {
	if p.JSON {
		p.printJSON(m)
		return
	}
	p.printText(m)
}

func (p *Printer) printText(m *Metadata) {
	fmt.Fprintf(p.Writer, "File  : %s\n", m.FilePath)
	fmt.Fprintf(p.Writer, "Format: %s\n", m.Format)
	if m.Width > 0 && m.Height > 0 {
		fmt.Fprintf(p.Writer, "Size  : %dx%d\n", m.Width, m.Height)
	}
	for _, w := range m.Warnings {
		fmt.Fprintf(p.Writer, "Warn  : %s\n", w)
	}
	if len(m.Fields) == 0 {
		fmt.Fprintln(p.Writer, "(no metadata found)")
		return
	}
	fmt.Fprintln(p.Writer)

	// Group by category
	groups := make(map[string][]MetaField)
	order := []string{}
	for _, f := range m.Fields {
		if _, ok := groups[f.Category]; !ok {
			order = append(order, f.Category)
		}
		groups[f.Category] = append(groups[f.Category], f)
	}

	for _, cat := range order {
		fmt.Fprintf(p.Writer, "── %s ──\n", cat)
		for _, f := range groups[cat] {
			edit := ""
			if !f.Editable {
				edit = " [read-only]"
			}
			raw := ""
			if p.Verbose && f.Raw != "" {
				raw = "  (" + f.Raw + ")"
			}
			fmt.Fprintf(p.Writer, "  %-36s %s%s%s\n", f.Key+":", f.Value, raw, edit)
		}
		fmt.Fprintln(p.Writer)
	}
}

func (p *Printer) printJSON(m *Metadata) {
	type jsonField struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		Category string `json:"category"`
		Editable bool   `json:"editable"`
		Raw      string `json:"raw,omitempty"`
	}
	type jsonOutput struct {
		FilePath string      `json:"file"`
		Format   string      `json:"format"`
		Width    int         `json:"width,omitempty"`
		Height   int         `json:"height,omitempty"`
		Fields   []jsonField `json:"fields"`
		Warnings []string    `json:"warnings,omitempty"`
	}

	out := jsonOutput{
		FilePath: m.FilePath,
		Format:   m.Format,
		Width:    m.Width,
		Height:   m.Height,
		Warnings: m.Warnings,
		Fields:   []jsonField{},
	}
	for _, f := range m.Fields {
		out.Fields = append(out.Fields, jsonField{
			Key:      f.Key,
			Value:    f.Value,
			Category: f.Category,
			Editable: f.Editable,
			Raw:      f.Raw,
		})
	}
	p.writeJSON(out)
}

func (p *Printer) writeJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(p.Writer, string(b))
}

// PrintFormats lists what each container supports.
func (p *Printer) PrintFormats(infos []FormatInfo) {
	if p.JSON {
		p.writeJSON(infos)
		return
	}
	join := func(ns []Namespace) string {
		s := make([]string, len(ns))
		for i, n := range ns {
			s[i] = string(n)
		}
		return strings.Join(s, ",")
	}
	fmt.Fprintf(p.Writer, "%-6s %-24s %-16s %s\n", "ID", "EXTENSIONS", "READ", "WRITE")
	for _, f := range infos {
		fmt.Fprintf(p.Writer, "%-6s %-24s %-16s %s\n", f.ID, strings.Join(f.Extensions, " "), join(f.Read), join(f.Write))
		if p.Verbose && f.Notes != "" {
			fmt.Fprintf(p.Writer, "       %s\n", f.Notes)
		}
	}
}

// PrintSuccess prints a success message.
func (p *Printer) PrintSuccess(msg string) {
	if p.JSON {
		return
	}
	fmt.Fprintln(p.Writer, "✓ "+msg)
}

// PrintInfo prints an info line (suppressed in JSON mode).
func (p *Printer) PrintInfo(msg string) {
	if !p.JSON {
		fmt.Fprintln(p.Writer, msg)
	}
}

// PrintJSON writes any value as indented JSON regardless of mode.
func (p *Printer) PrintJSON(v any) {
	p.writeJSON(v)
}

// PrintError prints an error to stderr.
func PrintError(msg string) {
	fmt.Fprintln(os.Stderr, "✗ Error: "+msg)
}

// ParseKV parses a "Key=Value" string.
func ParseKV(s string) (key, value string, ok bool) {
	idx := strings.Index(s, "=")
	if idx < 1 {
		return "", "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), true
}

// ResolveOutPath returns dst if non-empty, otherwise src (in-place).
func ResolveOutPath(src, dst string) string {
	if dst == "" {
		return src
	}
	return dst
}
