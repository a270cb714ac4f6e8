package protocol

import "time"

// SlideChanged announces the new live slide after an accepted match or a
// manual selection.
type SlideChanged struct {
	SessionID string    `json:"session_id"`
	SlideID   string    `json:"slide_id"`
	Order     int       `json:"order"`
	Reason    string    `json:"reason"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SlideSelect is a remote manual-selection command.
type SlideSelect struct {
	SlideID string `json:"slide_id"`
	Origin  string `json:"origin,omitempty"`
}

// InterimCaption carries coalesced provisional transcript text for
// operator displays.
type InterimCaption struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSlideChanged   = "slides.current"
	SubjectSlideSelect    = "slides.control.select"
	SubjectInterimCaption = "captions.interim"
)
