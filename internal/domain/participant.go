// Package domain contains entity types without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

// ParticipantID is the numeric identity supplied by the auth collaborator.
type ParticipantID int64

// Participant is one remote user in the meeting roster. Departed entries are
// kept until session teardown so the embedding UI can render call history.
type Participant struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name"`
	Departed bool          `json:"departed,omitempty"`
}

func NewParticipant(id ParticipantID, name string) (*Participant, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{ID: id, Name: name}, nil
}
