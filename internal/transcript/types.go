package transcript

import "time"

// Event is the NATS payload published to <prefix>.<ctx>.transcript when a
// recording stops.
type Event struct {
	TranscriptID   string     `json:"transcriptId"`
	ContextID      string     `json:"contextId"`
	Title          string     `json:"title"`
	SourceURL      string     `json:"sourceUrl"`
	MessageCount   int        `json:"messageCount"`
	Duration       string     `json:"duration"`
	FirstMessageAt *time.Time `json:"firstMessageAt"`
	LastMessageAt  *time.Time `json:"lastMessageAt"`
	Transcript     string     `json:"transcript"`
}
