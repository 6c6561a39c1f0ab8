package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/leaselink/messaging/internal/autoreply"
	"github.com/leaselink/messaging/internal/crypto"
	"github.com/leaselink/messaging/internal/identity"
	"github.com/leaselink/messaging/internal/models"
	"github.com/leaselink/messaging/internal/store"
	"github.com/leaselink/messaging/internal/store/sqlstore"
)

// flakyStore passes sends through to the real store until failAppends is
// set, after which Append reports a storage failure.
type flakyStore struct {
	store.MessageStore
	failAppends atomic.Bool
}

func (f *flakyStore) Append(ctx context.Context, roomID string, senderAccountID, receiverAccountID int, body string) (*models.Message, error) {
	if f.failAppends.Load() {
		return nil, &store.PersistenceError{Op: "append message", Err: errors.New("database unavailable")}
	}
	return f.MessageStore.Append(ctx, roomID, senderAccountID, receiverAccountID, body)
}

type testServer struct {
	store           *sqlstore.SQLStore
	messages        *flakyStore
	server          *httptest.Server
	tenant          models.Participant
	landlord        models.Participant
	tenantAccount   int
	landlordAccount int
	roomID          string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	codec, err := crypto.NewCodec(crypto.NewDerivedKeyProvider("test-secret"))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	st, err := sqlstore.New("sqlite3", ":memory:", codec)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	ctx := context.Background()
	landlordAccount, _ := st.CreateAccount(ctx, "Lars Landlord")
	landlordID, _ := st.CreateLandlord(ctx, landlordAccount)
	tenantAccount, _ := st.CreateAccount(ctx, "Tina Tenant")
	tenantID, _ := st.CreateTenant(ctx, tenantAccount, nil)

	resolver := identity.NewResolver(st)
	engine := autoreply.NewEngine(st, resolver, zerolog.Nop())
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	messages := &flakyStore{MessageStore: st}
	gateway := NewGateway(hub, messages, resolver, engine, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(gateway, w, r)
	})
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		st.Close()
	})

	return &testServer{
		store:           st,
		messages:        messages,
		server:          server,
		tenant:          models.Participant{Role: models.RoleTenant, RoleID: tenantID},
		landlord:        models.Participant{Role: models.RoleLandlord, RoleID: landlordID},
		tenantAccount:   tenantAccount,
		landlordAccount: landlordAccount,
		roomID:          identity.RoomID(tenantAccount, landlordAccount),
	}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// serverEvent is the union of everything the server can push.
type serverEvent struct {
	Type     string           `json:"type"`
	RoomID   string           `json:"room_id"`
	Kind     string           `json:"kind"`
	Detail   string           `json:"detail"`
	Messages []models.Message `json:"messages"`
	Message  models.Message   `json:"message"`
}

func readEvent(t *testing.T, conn *websocket.Conn) serverEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev serverEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	return ev
}

func assertNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var ev serverEvent
	if err := conn.ReadJSON(&ev); err == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func join(t *testing.T, conn *websocket.Conn, roomID string) serverEvent {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"op": "join", "room_id": roomID}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "history" {
		t.Fatalf("expected history event after join, got %+v", ev)
	}
	return ev
}

func (ts *testServer) sendFrame(t *testing.T, conn *websocket.Conn, sender, receiver models.Participant, roomID, body string) {
	t.Helper()
	err := conn.WriteJSON(clientFrame{
		Op:       "send",
		RoomID:   roomID,
		Sender:   &sender,
		Receiver: &receiver,
		Body:     body,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestFirstContactScenario(t *testing.T) {
	ts := newTestServer(t)

	tenantConn := ts.dial(t)
	landlordConn := ts.dial(t)
	join(t, tenantConn, ts.roomID)
	join(t, landlordConn, ts.roomID)

	ts.sendFrame(t, tenantConn, ts.tenant, ts.landlord, ts.roomID, "Hi, is this unit available?")

	// Both subscribers see the human message and the canned landlord ack,
	// in that order.
	for _, conn := range []*websocket.Conn{tenantConn, landlordConn} {
		human := readEvent(t, conn)
		if human.Type != "message" || human.Message.Body != "Hi, is this unit available?" {
			t.Fatalf("expected human message first, got %+v", human)
		}
		if human.Message.SenderAccountID != ts.tenantAccount {
			t.Errorf("human message sender %d, want %d", human.Message.SenderAccountID, ts.tenantAccount)
		}

		ack := readEvent(t, conn)
		if ack.Type != "message" || ack.Message.SenderAccountID != ts.landlordAccount {
			t.Fatalf("expected landlord ack second, got %+v", ack)
		}
	}

	count, err := ts.store.CountFromTo(context.Background(), ts.roomID, ts.tenantAccount, ts.landlordAccount)
	if err != nil {
		t.Fatalf("CountFromTo failed: %v", err)
	}
	if count != 1 {
		t.Errorf("tenant->landlord count = %d, want 1", count)
	}

	history, _ := ts.store.History(context.Background(), ts.roomID)
	if len(history) != 2 {
		t.Errorf("store has %d messages, want 2", len(history))
	}
}

func TestJoinDeliversHistoryToRequesterOnly(t *testing.T) {
	ts := newTestServer(t)

	tenantConn := ts.dial(t)
	join(t, tenantConn, ts.roomID)
	ts.sendFrame(t, tenantConn, ts.tenant, ts.landlord, ts.roomID, "Hello!")
	readEvent(t, tenantConn) // human
	readEvent(t, tenantConn) // first-contact ack

	lateConn := ts.dial(t)
	ev := join(t, lateConn, ts.roomID)
	if len(ev.Messages) != 2 {
		t.Fatalf("late joiner got %d history messages, want 2", len(ev.Messages))
	}
	if ev.Messages[0].Body != "Hello!" {
		t.Errorf("history[0] = %q, want the human message", ev.Messages[0].Body)
	}

	// The join must not have pushed anything to the existing subscriber.
	assertNoEvent(t, tenantConn)
}

func TestLeaveStopsDelivery(t *testing.T) {
	ts := newTestServer(t)

	tenantConn := ts.dial(t)
	watcherConn := ts.dial(t)
	join(t, tenantConn, ts.roomID)
	join(t, watcherConn, ts.roomID)

	if err := watcherConn.WriteJSON(map[string]string{"op": "leave", "room_id": ts.roomID}); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	// Leave has no acknowledgement; give the hub a moment to process.
	time.Sleep(100 * time.Millisecond)

	ts.sendFrame(t, tenantConn, ts.tenant, ts.landlord, ts.roomID, "Anyone here?")
	readEvent(t, tenantConn) // human
	readEvent(t, tenantConn) // ack

	assertNoEvent(t, watcherConn)
}

func TestSendPersistenceFailureNotBroadcast(t *testing.T) {
	ts := newTestServer(t)

	tenantConn := ts.dial(t)
	watcherConn := ts.dial(t)
	join(t, tenantConn, ts.roomID)
	join(t, watcherConn, ts.roomID)

	ts.messages.failAppends.Store(true)
	ts.sendFrame(t, tenantConn, ts.tenant, ts.landlord, ts.roomID, "Hello?")

	// The sender is told; nobody else sees anything.
	ev := readEvent(t, tenantConn)
	if ev.Type != "error" || ev.Kind != "persistence_failed" {
		t.Fatalf("expected persistence_failed error, got %+v", ev)
	}
	assertNoEvent(t, watcherConn)

	// The message must not be recoverable from history either.
	ts.messages.failAppends.Store(false)
	history, err := ts.store.History(context.Background(), ts.roomID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected the failed message absent from history, got %d messages", len(history))
	}
}

func TestConcurrentFirstMessagesOneReply(t *testing.T) {
	ts := newTestServer(t)

	connA := ts.dial(t)
	connB := ts.dial(t)
	join(t, connA, ts.roomID)
	join(t, connB, ts.roomID)

	// Two first messages from the same tenant race on two connections.
	// Append plus trigger evaluation is serialized per room, so exactly
	// one of them may draw the first-contact reply.
	var wg sync.WaitGroup
	for _, conn := range []*websocket.Conn{connA, connB} {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			frame := clientFrame{
				Op:       "send",
				RoomID:   ts.roomID,
				Sender:   &ts.tenant,
				Receiver: &ts.landlord,
				Body:     "Hi, is this unit available?",
			}
			if err := conn.WriteJSON(frame); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}(conn)
	}
	wg.Wait()

	// Each subscriber sees three events: both human messages and one ack.
	for _, conn := range []*websocket.Conn{connA, connB} {
		acks := 0
		for i := 0; i < 3; i++ {
			ev := readEvent(t, conn)
			if ev.Type != "message" {
				t.Fatalf("expected message event, got %+v", ev)
			}
			if ev.Message.SenderAccountID == ts.landlordAccount {
				acks++
			}
		}
		if acks != 1 {
			t.Errorf("expected exactly 1 landlord ack, got %d", acks)
		}
	}
	assertNoEvent(t, connA)

	count, err := ts.store.CountFromTo(context.Background(), ts.roomID, ts.landlordAccount, ts.tenantAccount)
	if err != nil {
		t.Fatalf("CountFromTo failed: %v", err)
	}
	if count != 1 {
		t.Errorf("landlord->tenant count = %d, want exactly 1 synthetic reply", count)
	}
	history, _ := ts.store.History(context.Background(), ts.roomID)
	if len(history) != 3 {
		t.Errorf("store has %d messages, want 3", len(history))
	}
}

func TestSendUnknownParticipant(t *testing.T) {
	ts := newTestServer(t)

	tenantConn := ts.dial(t)
	watcherConn := ts.dial(t)
	join(t, tenantConn, ts.roomID)
	join(t, watcherConn, ts.roomID)

	ghost := models.Participant{Role: models.RoleTenant, RoleID: 999}
	ts.sendFrame(t, tenantConn, ghost, ts.landlord, ts.roomID, "Hello?")

	ev := readEvent(t, tenantConn)
	if ev.Type != "error" || ev.Kind != "unknown_participant" {
		t.Fatalf("expected unknown_participant error, got %+v", ev)
	}

	// Nothing persisted, nothing broadcast.
	assertNoEvent(t, watcherConn)
	history, _ := ts.store.History(context.Background(), ts.roomID)
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d messages", len(history))
	}
}

func TestSendRoomMismatch(t *testing.T) {
	ts := newTestServer(t)

	tenantConn := ts.dial(t)
	join(t, tenantConn, "not-the-derived-room")

	ts.sendFrame(t, tenantConn, ts.tenant, ts.landlord, "not-the-derived-room", "Hello?")

	ev := readEvent(t, tenantConn)
	if ev.Type != "error" || ev.Kind != "room_mismatch" {
		t.Fatalf("expected room_mismatch error, got %+v", ev)
	}

	history, _ := ts.store.History(context.Background(), "not-the-derived-room")
	if len(history) != 0 {
		t.Errorf("expected nothing persisted under the mismatched room")
	}
}

func TestSendValidation(t *testing.T) {
	ts := newTestServer(t)

	conn := ts.dial(t)
	join(t, conn, ts.roomID)

	cases := []clientFrame{
		{Op: "send", RoomID: ts.roomID, Sender: &ts.tenant, Receiver: &ts.landlord}, // empty body
		{Op: "send", RoomID: ts.roomID, Body: "hi"},                                 // missing participants
		{Op: "send", RoomID: ts.roomID, Sender: &models.Participant{Role: "realtor", RoleID: 1}, Receiver: &ts.landlord, Body: "hi"},
		{Op: "send", RoomID: ts.roomID, Sender: &ts.tenant, Receiver: &ts.landlord, Body: strings.Repeat("x", maxBodySize+1)},
	}
	for i, frame := range cases {
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatalf("case %d: write failed: %v", i, err)
		}
		ev := readEvent(t, conn)
		if ev.Type != "error" || ev.Kind != "bad_request" {
			t.Fatalf("case %d: expected bad_request, got %+v", i, ev)
		}
	}
}

func TestUnknownOp(t *testing.T) {
	ts := newTestServer(t)

	conn := ts.dial(t)
	if err := conn.WriteJSON(map[string]string{"op": "shout"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Kind != "bad_request" {
		t.Fatalf("expected bad_request for unknown op, got %+v", ev)
	}
}
