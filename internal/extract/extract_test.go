package extract

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/earmark/internal/export"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsPlaceholder(t *testing.T) {
	long := strings.Repeat("Meeting notes about the quarterly roadmap. ", 3)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", true},
		{"short", "Hello world", true},
		{"punctuation only", strings.Repeat("-- ", 40), true},
		{"real content", long, false},
		{"unavailable marker", markerUnavailable + ": report.pdf could not be processed.] " + long, true},
		{"video marker", markerVideo + " for https://youtu.be/x.]", true},
		{"lowercase phrase", "Text extraction failed for this file. " + long, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPlaceholder(tt.text); got != tt.want {
				t.Errorf("IsPlaceholder(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsYouTube(t *testing.T) {
	tests := map[string]bool{
		"https://www.youtube.com/watch?v=abc": true,
		"https://youtu.be/abc":                true,
		"https://m.youtube.com/watch?v=abc":   true,
		"https://example.com/youtube.com":     false,
		"::not a url":                         false,
	}
	for in, want := range tests {
		if got := IsYouTube(in); got != want {
			t.Errorf("IsYouTube(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	d := NewDocconv(testLogger(), false)

	res := d.Extract(context.Background(), Source{
		Name:     "notes.txt",
		MimeType: "text/plain",
		Data:     []byte("Buy milk and call the plumber about the leaking sink."),
	})
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}
	if !strings.Contains(res.Text, "plumber") {
		t.Errorf("text = %q, want it to contain %q", res.Text, "plumber")
	}
}

func TestExtractEmptyTextIsPlaceholder(t *testing.T) {
	d := NewDocconv(testLogger(), false)

	res := d.Extract(context.Background(), Source{Name: "blank.txt", MimeType: "text/plain", Data: []byte("   \n")})
	if res.Success {
		t.Fatal("expected failure for empty document")
	}
	if !IsPlaceholder(res.Text) {
		t.Errorf("text = %q, want a placeholder", res.Text)
	}
}

func TestExtractCorruptPDF(t *testing.T) {
	d := NewDocconv(testLogger(), false)

	res := d.Extract(context.Background(), Source{Name: "broken.pdf", MimeType: "application/pdf", Data: []byte("not a pdf")})
	if res.Success {
		t.Fatal("expected failure for corrupt pdf")
	}
	if res.Error == "" {
		t.Error("expected error message")
	}
	if !IsPlaceholder(res.Text) {
		t.Errorf("text = %q, want a placeholder", res.Text)
	}
}

func TestExtractURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("The release train leaves every second Tuesday at noon."))
	}))
	defer server.Close()

	d := NewDocconv(testLogger(), false)
	res := d.Extract(context.Background(), Source{URL: server.URL})
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}
	if !strings.Contains(res.Text, "release train") {
		t.Errorf("text = %q", res.Text)
	}
}

func TestExtractURLErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	d := NewDocconv(testLogger(), false)
	res := d.Extract(context.Background(), Source{URL: server.URL})
	if res.Success {
		t.Fatal("expected failure for 404")
	}
	if !IsPlaceholder(res.Text) {
		t.Errorf("text = %q, want a placeholder", res.Text)
	}
}

func TestExtractYouTubeIsPlaceholder(t *testing.T) {
	d := NewDocconv(testLogger(), false)

	res := d.Extract(context.Background(), Source{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"})
	if res.Success {
		t.Fatal("expected youtube extraction to fail")
	}
	if !IsPlaceholder(res.Text) {
		t.Errorf("text = %q, want a placeholder", res.Text)
	}
}

func TestExtractPDFRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	it := export.Item{Type: "recording", Title: "Roadmap", Transcript: "Quarterly roadmap review covering hiring, launch dates and budget."}
	if err := export.Render(&buf, "pdf", it); err != nil {
		t.Fatalf("render pdf: %v", err)
	}

	d := NewDocconv(testLogger(), false)
	res := d.Extract(context.Background(), Source{Name: "roadmap.pdf", MimeType: "application/pdf", Data: buf.Bytes()})
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}
	if !strings.Contains(strings.Join(strings.Fields(res.Text), ""), "Roadmap") {
		t.Errorf("text = %q, want it to contain the title", res.Text)
	}
}
