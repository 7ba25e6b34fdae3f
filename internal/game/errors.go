package game

import "errors"

// Game errors are reported to the originating request and never crash the
// server. The gateway maps them to wire error codes.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room full")
	ErrAlreadyStarted   = errors.New("game already started")
	ErrDuplicatePlayer  = errors.New("already in this room")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrNotCurrentNumber = errors.New("can only mark the most recent number")
	ErrNotOnTicket      = errors.New("number not on your ticket")
	ErrAlreadyClaimed   = errors.New("already claimed a win")
	ErrInvalidClaim     = errors.New("invalid claim")
	ErrGameNotEnded     = errors.New("game has not ended")
	ErrNotPlaying       = errors.New("game is not in play")
)
