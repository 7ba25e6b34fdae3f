package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/housielabs/housie-server/internal/game"
	"github.com/housielabs/housie-server/internal/settlement"
)

// Message is the websocket envelope. Requests may carry a RequestID, which
// the matching ack or error echoes back so clients can correlate replies.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// NewResponse creates an ack for the request identified by requestID.
func NewResponse(messageType MessageType, data interface{}, requestID string) (*Message, error) {
	msg, err := NewMessage(messageType, data)
	if err != nil {
		return nil, err
	}
	msg.RequestID = requestID
	return msg, nil
}

// Client → server payloads.

type CreateRoomData struct {
	AccountID  string `json:"accountId"`
	PlayerName string `json:"playerName"`
	EntryFee   int    `json:"entryFee"`
}

type JoinRoomData struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
	AccountID  string `json:"accountId,omitempty"`
}

type MarkNumberData struct {
	RoomID string `json:"roomId"`
	Number int    `json:"number"`
}

type ClaimWinData struct {
	RoomID string `json:"roomId"`
	Type   string `json:"type"`
}

type RejoinData struct {
	RoomID    string `json:"roomId"`
	AccountID string `json:"accountId"`
}

type RequestRematchData struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type RespondRematchData struct {
	RoomID   string `json:"roomId"`
	Accepted bool   `json:"accepted"`
}

// Server → client payloads.

type RoomCreatedData struct {
	RoomID string        `json:"roomId"`
	Player game.View     `json:"player"`
	State  game.Snapshot `json:"state"`
}

type RoomJoinedData struct {
	Player game.View     `json:"player"`
	State  game.Snapshot `json:"state"`
}

type MarkedData struct {
	Success bool `json:"success"`
}

type ClaimResultData struct {
	Success bool `json:"success"`
}

type RejoinedData struct {
	State  game.Snapshot `json:"state"`
	Player game.View     `json:"player"`
}

type NewNumberData struct {
	Number  int   `json:"number"`
	History []int `json:"history"`
}

type GameStartData struct {
	Status game.Status `json:"status"`
}

type WinnerAnnouncedData struct {
	Winner  game.Winner `json:"winner"`
	Message string      `json:"message"`
}

type GameOverData struct {
	Winners []game.Winner `json:"winners"`
}

type RematchRequestedData struct {
	By   string `json:"by"`
	ByID string `json:"byId"`
}

type RematchRejectedData struct {
	ByID string `json:"byId"`
}

type StatsUpdateData struct {
	Coins  int `json:"coins"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps game and settlement errors to stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, game.ErrRoomFull):
		return "room_full"
	case errors.Is(err, game.ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, game.ErrDuplicatePlayer):
		return "duplicate_player"
	case errors.Is(err, game.ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, game.ErrNotCurrentNumber):
		return "not_current_number"
	case errors.Is(err, game.ErrNotOnTicket):
		return "not_on_ticket"
	case errors.Is(err, game.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, game.ErrInvalidClaim):
		return "invalid_claim"
	case errors.Is(err, game.ErrGameNotEnded):
		return "game_not_ended"
	case errors.Is(err, game.ErrNotPlaying):
		return "not_playing"
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return "insufficient_coins"
	default:
		return "internal_error"
	}
}
