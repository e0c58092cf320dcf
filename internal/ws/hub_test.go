package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tchat-server/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d clients registered", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversByConversation(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	dashboard := dial(t, srv, "")
	widget := dial(t, srv, "?conversationId=conv-2")
	waitForClients(t, hub, 2)

	msg := models.Message{ConversationID: "conv-1", Content: "hello", Sender: models.SenderBot}
	hub.NotifyMessage(msg)
	hub.NotifyStatus("conv-2", models.StatusResolved)

	var ev WSEvent
	dashboard.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := dashboard.ReadJSON(&ev); err != nil {
		t.Fatalf("dashboard read: %v", err)
	}
	if ev.Type != EventNewMessage || ev.ConversationID != "conv-1" {
		t.Errorf("dashboard got %+v", ev)
	}

	widget.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := widget.ReadMessage()
	if err != nil {
		t.Fatalf("widget read: %v", err)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventConversationUpdate || ev.ConversationID != "conv-2" {
		t.Errorf("widget should only see its own conversation, got %+v", ev)
	}
}

func TestBroadcastDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.NotifyStatus("c", models.StatusOpen)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BroadcastEvent blocked")
	}
}
