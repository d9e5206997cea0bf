// Package export renders recordings and documents for download.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/dukerupert/earmark/internal/model"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Formats lists every format Render understands.
var Formats = []string{"txt", "md", "pdf", "json"}

// Item is the exportable view of a recording or document.
type Item struct {
	ID         string         `json:"id"`
	Type       model.ItemType `json:"type"`
	Title      string         `json:"title"`
	CreatedAt  time.Time      `json:"created_at"`
	Duration   int            `json:"duration,omitempty"`
	Source     string         `json:"source,omitempty"`
	Transcript string         `json:"transcript"`
	Summary    string         `json:"summary,omitempty"`
}

func FromRecording(r model.Recording) Item {
	return Item{
		ID:         r.ID,
		Type:       model.ItemTypeRecording,
		Title:      r.Title,
		CreatedAt:  r.CreatedAt,
		Duration:   r.Duration,
		Transcript: deref(r.Transcript),
		Summary:    deref(r.Summary),
	}
}

func FromDocument(d model.Document) Item {
	return Item{
		ID:         d.ID,
		Type:       model.ItemTypeDocument,
		Title:      d.Name,
		CreatedAt:  d.CreatedAt,
		Source:     d.URI,
		Transcript: deref(d.Transcript),
		Summary:    deref(d.Summary),
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch format {
	case "txt":
		return "text/plain; charset=utf-8"
	case "md":
		return "text/markdown; charset=utf-8"
	case "pdf":
		return "application/pdf"
	case "json":
		return "application/json"
	}
	return "application/octet-stream"
}

// Filename builds a download name from the item title.
func Filename(it Item, format string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, it.Title)
	if name == "" {
		name = it.ID
	}
	return name + "." + format
}

func Render(w io.Writer, format string, it Item) error {
	switch format {
	case "txt":
		return renderText(w, it)
	case "md":
		return renderMarkdown(w, it)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(it)
	case "pdf":
		return renderPDF(w, it)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func header(it Item) []string {
	lines := []string{"Created: " + it.CreatedAt.Format("January 2, 2006 3:04 PM")}
	if it.Duration > 0 {
		lines = append(lines, fmt.Sprintf("Duration: %d:%02d", it.Duration/60, it.Duration%60))
	}
	if it.Source != "" {
		lines = append(lines, "Source: "+it.Source)
	}
	return lines
}

func bodyLabel(it Item) string {
	if it.Type == model.ItemTypeDocument {
		return "Content"
	}
	return "Transcript"
}

func renderText(w io.Writer, it Item) error {
	var b bytes.Buffer
	b.WriteString(it.Title + "\n")
	b.WriteString(strings.Repeat("=", len(it.Title)) + "\n")
	for _, l := range header(it) {
		b.WriteString(l + "\n")
	}
	if it.Summary != "" {
		b.WriteString("\nSummary\n-------\n" + it.Summary + "\n")
	}
	label := bodyLabel(it)
	fmt.Fprintf(&b, "\n%s\n%s\n%s\n", label, strings.Repeat("-", len(label)), it.Transcript)
	_, err := w.Write(b.Bytes())
	return err
}

func renderMarkdown(w io.Writer, it Item) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", it.Title)
	for _, l := range header(it) {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	if it.Summary != "" {
		fmt.Fprintf(&b, "\n## Summary\n\n%s\n", it.Summary)
	}
	fmt.Fprintf(&b, "\n## %s\n\n%s\n", bodyLabel(it), it.Transcript)
	_, err := w.Write(b.Bytes())
	return err
}

func renderPDF(w io.Writer, it Item) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(it.Title, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 8, tr(it.Title), "", "L", false)
	pdf.SetFont("Arial", "", 10)
	for _, l := range header(it) {
		pdf.MultiCell(0, 5, tr(l), "", "L", false)
	}

	section := func(title, text string) {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 12)
		pdf.MultiCell(0, 7, title, "", "L", false)
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 5.5, tr(text), "", "L", false)
	}
	if it.Summary != "" {
		section("Summary", it.Summary)
	}
	section(bodyLabel(it), it.Transcript)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
