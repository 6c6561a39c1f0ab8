package ws

import (
	"encoding/json"

	"github.com/leaselink/messaging/internal/models"
)

// Client-to-server operations. One JSON object per WebSocket text frame.
const (
	opJoin  = "join"
	opLeave = "leave"
	opSend  = "send"
)

type clientFrame struct {
	Op       string              `json:"op"`
	RoomID   string              `json:"room_id"`
	Sender   *models.Participant `json:"sender,omitempty"`
	Receiver *models.Participant `json:"receiver,omitempty"`
	Body     string              `json:"body,omitempty"`
}

// Server-to-client event kinds.
const (
	eventHistory = "history"
	eventMessage = "message"
	eventError   = "error"
)

// Error kinds surfaced to the originating connection.
const (
	errBadRequest         = "bad_request"
	errUnknownParticipant = "unknown_participant"
	errRoomMismatch       = "room_mismatch"
	errPersistenceFailed  = "persistence_failed"
)

type historyEvent struct {
	Type     string           `json:"type"`
	RoomID   string           `json:"room_id"`
	Messages []models.Message `json:"messages"`
}

type messageEvent struct {
	Type    string         `json:"type"`
	RoomID  string         `json:"room_id"`
	Message models.Message `json:"message"`
}

type errorEvent struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func marshalHistory(roomID string, messages []models.Message) []byte {
	if messages == nil {
		messages = []models.Message{}
	}
	data, _ := json.Marshal(historyEvent{Type: eventHistory, RoomID: roomID, Messages: messages})
	return data
}

func marshalMessage(msg models.Message) []byte {
	data, _ := json.Marshal(messageEvent{Type: eventMessage, RoomID: msg.RoomID, Message: msg})
	return data
}

func marshalError(kind, detail string) []byte {
	data, _ := json.Marshal(errorEvent{Type: eventError, Kind: kind, Detail: detail})
	return data
}
