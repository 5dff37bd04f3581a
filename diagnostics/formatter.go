package diagnostics

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Formatter renders one or many diagnostics to a display string. Two
// implementations are provided: TextFormatter for bean-check-style CLI
// output and JSONFormatter for API consumers, mirroring the teacher's
// errors.Formatter split between presentation and domain logic.
type Formatter interface {
	Format(d *Diagnostic) string
	FormatAll(ds List) string
}

// TextFormatter renders diagnostics as "CODE [severity] file:line:col:
// message (context)" lines, one diagnostic at a time, in bean-check style.
type TextFormatter struct{}

func NewTextFormatter() *TextFormatter { return &TextFormatter{} }

func (tf *TextFormatter) Format(d *Diagnostic) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s [%s] %s: %s", d.Code, d.Severity, d.Position.String(), d.Message)
	if d.Context != "" {
		fmt.Fprintf(&buf, " (%s)", d.Context)
	}
	return buf.String()
}

func (tf *TextFormatter) FormatAll(ds List) string {
	if len(ds) == 0 {
		return ""
	}
	var buf bytes.Buffer
	for i, d := range ds {
		buf.WriteString(tf.Format(d))
		if i < len(ds)-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// JSONFormatter renders diagnostics as JSON objects/arrays for tools that
// consume validation output programmatically.
type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter { return &JSONFormatter{} }

// DiagnosticJSON is the wire shape of a single Diagnostic.
type DiagnosticJSON struct {
	Code     string        `json:"code"`
	Severity string        `json:"severity"`
	Position *PositionJSON `json:"position,omitempty"`
	Date     string        `json:"date,omitempty"`
	Message  string        `json:"message"`
	Context  string        `json:"context,omitempty"`
}

// PositionJSON is the wire shape of an ast.Position.
type PositionJSON struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

func toJSON(d *Diagnostic) DiagnosticJSON {
	out := DiagnosticJSON{
		Code:     string(d.Code),
		Severity: d.Severity.String(),
		Position: &PositionJSON{Filename: d.Position.Filename, Line: d.Position.Line, Column: d.Position.Column},
		Message:  d.Message,
		Context:  d.Context,
	}
	if d.Date != nil {
		out.Date = d.Date.String()
	}
	return out
}

func (jf *JSONFormatter) Format(d *Diagnostic) string {
	data, _ := json.Marshal(toJSON(d))
	return string(data)
}

func (jf *JSONFormatter) FormatAll(ds List) string {
	out := make([]DiagnosticJSON, len(ds))
	for i, d := range ds {
		out[i] = toJSON(d)
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return string(data)
}

var (
	_ Formatter = (*TextFormatter)(nil)
	_ Formatter = (*JSONFormatter)(nil)
)
