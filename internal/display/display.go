// Package display renders predictions for terminals and machine consumers.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cassavanet/cassavanet/internal/classifier"
	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/labels"
)

// Format selects an output rendering.
type Format string

const (
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatText, FormatTable, FormatJSON, FormatYAML}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", errors.Newf("unknown output format %q", s).
		Component("display").
		Category(errors.CategoryValidation).
		Build()
}

// Score is the serialized form of a ranked class.
type Score struct {
	Class      int     `json:"class" yaml:"class"`
	Label      *string `json:"label" yaml:"label"`
	Confidence float32 `json:"confidence" yaml:"confidence"`
}

// Record is the serialized form of one prediction. Label is null when the
// label table has no entry for the class.
type Record struct {
	ID         string    `json:"id,omitempty" yaml:"id,omitempty"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
	Class      int       `json:"class" yaml:"class"`
	Label      *string   `json:"label" yaml:"label"`
	Confidence float32   `json:"confidence" yaml:"confidence"`
	LatencyMS  int64     `json:"latency_ms" yaml:"latency_ms"`
	Top        []Score   `json:"top,omitempty" yaml:"top,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Time       time.Time `json:"time" yaml:"time"`

	text string
}

// NewRecord converts a prediction or its error into a Record.
func NewRecord(source string, p classifier.Prediction, err error) Record {
	r := Record{Source: source, Time: time.Now().UTC()}
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Class = p.Class
	r.Label = labelPtr(p.Label, p.Known)
	r.Confidence = p.Confidence
	r.LatencyMS = p.Latency.Milliseconds()
	for _, s := range p.Top {
		r.Top = append(r.Top, Score{Class: s.Class, Label: labelPtr(s.Label, s.Known), Confidence: s.Confidence})
	}
	r.text = p.String()
	return r
}

func labelPtr(label string, known bool) *string {
	if !known {
		return nil
	}
	return &label
}

// DisplayLabel returns the label or a placeholder for an unknown class.
func (r Record) DisplayLabel() string {
	if r.Label == nil {
		return fmt.Sprintf("unknown class %d", r.Class)
	}
	return *r.Label
}

// Render writes records to w in the given format.
func Render(w io.Writer, f Format, records []Record) error {
	switch f {
	case FormatText:
		return renderText(w, records)
	case FormatTable:
		return renderTable(w, records)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(records) == 1 {
			return enc.Encode(records[0])
		}
		return enc.Encode(records)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		if len(records) == 1 {
			return enc.Encode(records[0])
		}
		return enc.Encode(records)
	default:
		_, err := ParseFormat(string(f))
		return err
	}
}

// renderText prints the three result lines per record, the way the app
// shows them under the image.
func renderText(w io.Writer, records []Record) error {
	for i, r := range records {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if len(records) > 1 && r.Source != "" {
			if _, err := fmt.Fprintf(w, "%s\n", r.Source); err != nil {
				return err
			}
		}
		if r.Error != "" {
			if _, err := fmt.Fprintf(w, "Error: %s\n", r.Error); err != nil {
				return err
			}
			continue
		}
		text := r.text
		if text == "" {
			text = fmt.Sprintf("Prediction: %s\nAccuracy: %.2f%%\nLatency: %d ms", r.DisplayLabel(), r.Confidence, r.LatencyMS)
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return nil
}

func renderTable(w io.Writer, records []Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tPREDICTION\tACCURACY\tLATENCY")
	for _, r := range records {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\terror: %s\t-\t-\n", r.Source, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t%d ms\n", r.Source, r.DisplayLabel(), r.Confidence, r.LatencyMS)
	}
	return tw.Flush()
}

// About writes the application description with the diseases the label
// table can report.
func About(w io.Writer, table *labels.Table) error {
	var b strings.Builder
	b.WriteString("Cassava Leaf Disease Detection\n\n")
	b.WriteString("Key Features:\n")
	b.WriteString("- Real-time detection of cassava leaf diseases from a live camera feed.\n")
	b.WriteString("- Classification of a selected image file.\n\n")
	b.WriteString("Detected Diseases:\n")
	for _, i := range table.Indices() {
		name, _ := table.Lookup(i)
		fmt.Fprintf(&b, "- %s\n", name)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// LabelEntry is the serialized form of one label table row.
type LabelEntry struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
}

// RenderLabels writes the label table in index order.
func RenderLabels(w io.Writer, f Format, table *labels.Table) error {
	entries := make([]LabelEntry, 0, table.Len())
	for _, i := range table.Indices() {
		name, _ := table.Lookup(i)
		entries = append(entries, LabelEntry{Index: i, Name: name})
	}

	switch f {
	case FormatText, FormatTable:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tNAME")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\n", e.Index, e.Name)
		}
		return tw.Flush()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(entries)
	default:
		_, err := ParseFormat(string(f))
		return err
	}
}
