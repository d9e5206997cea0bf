package model

import "time"

type Recording struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URI            string    `json:"uri"`
	Duration       int       `json:"duration"`
	CreatedAt      time.Time `json:"created_at"`
	Transcript     *string   `json:"transcript,omitempty"`
	Summary        *string   `json:"summary,omitempty"`
	IsTranscribing bool      `json:"is_transcribing"`
}

func (r Recording) Clone() Recording {
	c := r
	c.Transcript = cloneString(r.Transcript)
	c.Summary = cloneString(r.Summary)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
