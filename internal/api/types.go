// Package api holds the JSON request and response bodies of the room
// directory HTTP interface, shared by the server and the directory client.
package api

type CreateRoomRequest struct {
	HostName string `json:"hostName"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type JoinRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// VoteRequest sets a vote; a null Score clears it.
type VoteRequest struct {
	RoomID string   `json:"roomId"`
	Name   string   `json:"name"`
	Score  *float64 `json:"score"`
}

type LockRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type RestartRequest struct {
	RoomID string `json:"roomId"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PlayerResult struct {
	Name  string   `json:"name"`
	Score *float64 `json:"score"`
}

// ResultsResponse is the authoritative room snapshot served by GET /results.
type ResultsResponse struct {
	Locked  bool           `json:"locked"`
	Results []PlayerResult `json:"results"`
	Average *float64       `json:"average"`
}

type RoundSummary struct {
	ID       string         `json:"id"`
	LockedAt string         `json:"lockedAt"`
	Average  *float64       `json:"average"`
	Votes    []PlayerResult `json:"votes"`
}

type HistoryResponse struct {
	Rounds []RoundSummary `json:"rounds"`
}
