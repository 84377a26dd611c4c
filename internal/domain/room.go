package domain

// RoomID scopes all signaling traffic for one meeting.
type RoomID string
