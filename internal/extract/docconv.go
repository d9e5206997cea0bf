package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

const (
	defaultFetchTimeout = 20 * time.Second
	maxFetchBytes       = 10 << 20
)

var ErrNoText = errors.New("no text content")

// Docconv extracts PDFs page by page and every other format through docconv.
type Docconv struct {
	httpClient     *http.Client
	useReadability bool
	logger         *slog.Logger
}

func NewDocconv(logger *slog.Logger, useReadability bool) *Docconv {
	return &Docconv{
		httpClient:     &http.Client{Timeout: defaultFetchTimeout},
		useReadability: useReadability,
		logger:         logger.With("component", "extract"),
	}
}

func (d *Docconv) Extract(ctx context.Context, src Source) Result {
	if src.URL != "" {
		return d.extractURL(ctx, src)
	}

	name := src.Name
	if name == "" {
		name = "document"
	}

	var text string
	var err error
	if src.MimeType == "application/pdf" {
		text, err = extractPDF(src.Data)
	} else {
		text, err = d.convert(bytes.NewReader(src.Data), src.MimeType)
	}
	if err != nil {
		d.logger.Warn("extraction failed", "name", name, "mime", src.MimeType, "error", err)
		return failure(fmt.Sprintf("%s: %s could not be processed.]", markerUnavailable, name), err)
	}
	if strings.TrimSpace(text) == "" {
		return failure(fmt.Sprintf("%s from %s.]", markerNoText, name), ErrNoText)
	}
	return Result{Text: text, Success: true}
}

func (d *Docconv) convert(r io.Reader, mimeType string) (string, error) {
	res, err := docconv.Convert(r, mimeType, d.useReadability)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", mimeType, err)
	}
	return strings.TrimSpace(res.Body), nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var content strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		content.WriteString(text)
		content.WriteString("\n\n")
	}
	return strings.TrimSpace(content.String()), nil
}

// IsYouTube reports whether rawURL points at a YouTube video.
func IsYouTube(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be"
}

func (d *Docconv) extractURL(ctx context.Context, src Source) Result {
	if IsYouTube(src.URL) {
		return failure(
			fmt.Sprintf("%s for %s. Paste the transcript as a text document to chat about it.]", markerVideo, src.URL),
			errors.New("video transcripts are not supported"),
		)
	}

	text, err := d.fetch(ctx, src.URL)
	if err != nil {
		d.logger.Warn("url extraction failed", "url", src.URL, "error", err)
		return failure(fmt.Sprintf("%s: %s could not be fetched.]", markerUnavailable, src.URL), err)
	}
	if text == "" {
		return failure(fmt.Sprintf("%s from %s.]", markerNoText, src.URL), ErrNoText)
	}
	return Result{Text: text, Success: true}
}

func (d *Docconv) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "earmark/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "text/html"
	}

	body := io.LimitReader(resp.Body, maxFetchBytes)
	if mimeType == "application/pdf" {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return extractPDF(data)
	}
	return d.convert(body, mimeType)
}
