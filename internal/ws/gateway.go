package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leaselink/messaging/internal/autoreply"
	"github.com/leaselink/messaging/internal/crypto"
	"github.com/leaselink/messaging/internal/identity"
	"github.com/leaselink/messaging/internal/metrics"
	"github.com/leaselink/messaging/internal/store"
)

// A send body may be at most this many bytes before encryption.
const maxBodySize = 8192

// Gateway dispatches the protocol operations for every connection and
// wires them to the store, resolver, and reply engine.
type Gateway struct {
	hub      *Hub
	messages store.MessageStore
	resolver *identity.Resolver
	engine   *autoreply.Engine
	log      zerolog.Logger

	// Serializes append plus trigger evaluation per room, so two
	// concurrent first messages cannot both (or neither) draw the
	// first-contact reply. Locks are kept for the process lifetime; room
	// cardinality is bounded by the tenant/landlord pairs on the platform.
	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func NewGateway(hub *Hub, messages store.MessageStore, resolver *identity.Resolver, engine *autoreply.Engine, log zerolog.Logger) *Gateway {
	return &Gateway{
		hub:       hub,
		messages:  messages,
		resolver:  resolver,
		engine:    engine,
		log:       log.With().Str("component", "gateway").Logger(),
		roomLocks: make(map[string]*sync.Mutex),
	}
}

// HandleFrame processes one inbound frame from a connection. Errors are
// reported to that connection only; other subscribers never see them.
func (g *Gateway) HandleFrame(ctx context.Context, c *Client, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.hub.Send(c, marshalError(errBadRequest, "malformed frame"))
		return
	}

	switch frame.Op {
	case opJoin:
		g.handleJoin(ctx, c, frame)
	case opLeave:
		g.handleLeave(c, frame)
	case opSend:
		g.handleSend(ctx, c, frame)
	default:
		g.hub.Send(c, marshalError(errBadRequest, "unknown op"))
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, frame clientFrame) {
	if frame.RoomID == "" {
		g.hub.Send(c, marshalError(errBadRequest, "room_id is required"))
		return
	}

	g.hub.Subscribe(c, frame.RoomID)

	history, err := g.messages.History(ctx, frame.RoomID)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", frame.RoomID).Msg("history load failed")
		g.hub.Send(c, marshalError(errPersistenceFailed, "history unavailable"))
		return
	}

	// History goes to the joining connection only, never the room.
	g.hub.Send(c, marshalHistory(frame.RoomID, history))
}

func (g *Gateway) handleLeave(c *Client, frame clientFrame) {
	if frame.RoomID == "" {
		g.hub.Send(c, marshalError(errBadRequest, "room_id is required"))
		return
	}
	g.hub.Unsubscribe(c, frame.RoomID)
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, frame clientFrame) {
	if kind, detail := validateSend(frame); kind != "" {
		g.sendError(c, kind, detail)
		return
	}

	senderAccountID, err := g.resolver.ResolveAccount(ctx, *frame.Sender)
	if err != nil {
		g.resolveError(c, err)
		return
	}
	receiverAccountID, err := g.resolver.ResolveAccount(ctx, *frame.Receiver)
	if err != nil {
		g.resolveError(c, err)
		return
	}

	// Clients supply the room id, but it must be the one derived from the
	// two resolved accounts; anything else would let a connection write
	// into a room it is not party to.
	if derived := identity.RoomID(senderAccountID, receiverAccountID); derived != frame.RoomID {
		g.sendError(c, errRoomMismatch, "room_id does not match participants")
		return
	}

	lock := g.roomLock(frame.RoomID)
	lock.Lock()

	msg, err := g.messages.Append(ctx, frame.RoomID, senderAccountID, receiverAccountID, frame.Body)
	if err != nil {
		lock.Unlock()
		// Fail closed: nothing was persisted, so nothing is broadcast.
		var encErr *crypto.EncryptionError
		if errors.As(err, &encErr) {
			g.sendError(c, errBadRequest, encErr.Error())
			return
		}
		g.log.Error().Err(err).Str("room_id", frame.RoomID).Msg("message append failed")
		g.sendError(c, errPersistenceFailed, "message not persisted")
		return
	}
	metrics.MessagesStored.WithLabelValues("human").Inc()

	synthetic := g.engine.Evaluate(ctx, frame.RoomID, *frame.Sender, *frame.Receiver, senderAccountID, receiverAccountID, frame.Body)
	lock.Unlock()

	g.hub.Broadcast(frame.RoomID, marshalMessage(*msg))
	for _, reply := range synthetic {
		g.hub.Broadcast(frame.RoomID, marshalMessage(reply))
	}
}

func validateSend(frame clientFrame) (kind, detail string) {
	switch {
	case frame.RoomID == "":
		return errBadRequest, "room_id is required"
	case frame.Sender == nil || frame.Receiver == nil:
		return errBadRequest, "sender and receiver are required"
	case !frame.Sender.Role.Valid() || !frame.Receiver.Role.Valid():
		return errBadRequest, "role must be tenant or landlord"
	case frame.Body == "":
		return errBadRequest, "body is required"
	case len(frame.Body) > maxBodySize:
		return errBadRequest, "body too long"
	}
	return "", ""
}

func (g *Gateway) resolveError(c *Client, err error) {
	if errors.Is(err, identity.ErrUnknownParticipant) {
		g.sendError(c, errUnknownParticipant, err.Error())
		return
	}
	g.log.Error().Err(err).Msg("participant resolution failed")
	g.sendError(c, errPersistenceFailed, "participant lookup failed")
}

func (g *Gateway) sendError(c *Client, kind, detail string) {
	metrics.SendErrors.WithLabelValues(kind).Inc()
	g.hub.Send(c, marshalError(kind, detail))
}

func (g *Gateway) roomLock(roomID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		g.roomLocks[roomID] = lock
	}
	return lock
}
