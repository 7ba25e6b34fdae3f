package server

// MessageType identifies a websocket message on the wire.
type MessageType string

// Client → server requests.
const (
	MessageTypeCreateRoom     MessageType = "create_room"
	MessageTypeJoinRoom       MessageType = "join_room"
	MessageTypeMarkNumber     MessageType = "mark_number"
	MessageTypeClaimWin       MessageType = "claim_win"
	MessageTypeRejoinRequest  MessageType = "rejoin_game_request"
	MessageTypeRequestRematch MessageType = "request_rematch"
	MessageTypeRespondRematch MessageType = "respond_rematch"
)

// Server → client acks, broadcasts and private pushes.
const (
	MessageTypeRoomCreated      MessageType = "room_created"
	MessageTypeRoomJoined       MessageType = "room_joined"
	MessageTypeMarked           MessageType = "marked"
	MessageTypeClaimResult      MessageType = "claim_result"
	MessageTypeRejoined         MessageType = "rejoined"
	MessageTypeRoomUpdate       MessageType = "room_update"
	MessageTypeNewNumber        MessageType = "new_number"
	MessageTypeGameStart        MessageType = "game_start"
	MessageTypeWinnerAnnounced  MessageType = "winner_announced"
	MessageTypeGameOver         MessageType = "game_over"
	MessageTypeRematchRequested MessageType = "rematch_requested"
	MessageTypeRematchRejected  MessageType = "rematch_rejected"
	MessageTypePlayerUpdate     MessageType = "player_update"
	MessageTypeStatsUpdate      MessageType = "stats_update"
	MessageTypeError            MessageType = "error"
)

func (t MessageType) String() string {
	return string(t)
}
