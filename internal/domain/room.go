// Package domain contains entity meta-data without logic.
package domain

type (
	RoomID        string
	ParticipantID int
	StreamID      string
)

// ParticipantInfo is a read-only view for the signaling protocol
// (no transport or stream handles).
type ParticipantInfo struct {
	ID      ParticipantID `json:"id"`
	Name    string        `json:"name"`
	Streams []StreamID    `json:"streams"`
}

// RoomInfo is the membership snapshot sent with join responses and
// participants events.
type RoomInfo struct {
	ID           RoomID            `json:"id"`
	Participants []ParticipantInfo `json:"participants"`
}

// RoomSummary is the list view for the rooms API.
type RoomSummary struct {
	ID               RoomID `json:"id"`
	ParticipantCount int    `json:"participant_count"`
}
