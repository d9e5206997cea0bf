package model

import "time"

// DocumentType distinguishes uploaded files from URL-derived content.
type DocumentType string

const (
	DocumentTypePDF     DocumentType = "file-pdf"
	DocumentTypeDOCX    DocumentType = "file-docx"
	DocumentTypeText    DocumentType = "file-text"
	DocumentTypeWeb     DocumentType = "url-web"
	DocumentTypeYouTube DocumentType = "url-youtube"
)

// IsURL reports whether the document was derived from a URL rather than a file.
func (t DocumentType) IsURL() bool {
	return t == DocumentTypeWeb || t == DocumentTypeYouTube
}

type Document struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	URI       string       `json:"uri"`
	Type      DocumentType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
	// Transcript holds the extracted text content.
	Transcript   *string `json:"transcript,omitempty"`
	Summary      *string `json:"summary,omitempty"`
	IsProcessing bool    `json:"is_processing"`
}

func (d Document) Clone() Document {
	c := d
	c.Transcript = cloneString(d.Transcript)
	c.Summary = cloneString(d.Summary)
	return c
}
