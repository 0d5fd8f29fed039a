package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/persona"
	"github.com/zhouzirui/pipbot/internal/service/ai"
	"github.com/zhouzirui/pipbot/internal/service/history"
	"github.com/zhouzirui/pipbot/internal/service/relay"
)

type received struct {
	Type    string          `json:"type"`
	EventID string          `json:"eventId"`
	Data    json.RawMessage `json:"data"`
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()

	registry := relay.NewRegistry("pip")
	pl, err := relay.NewPipeline(context.Background(), relay.Options{
		Persona: persona.Seed()[0],
		Store:   history.NewMemoryStore(),
		Completer: ai.CompleterFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
			return ai.Response{Text: "hi from the gateway"}, nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(pl))

	dispatcher, err := relay.NewDispatcher(relay.DispatcherOptions{Workers: 2})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(registry, dispatcher, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		ws.Close()
		srv.Close()
		_ = dispatcher.Close(time.Second)
		pl.Wait()
	})
	return ws
}

func read(t *testing.T, ws *websocket.Conn) received {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg received
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestGatewayEventRoundTrip(t *testing.T) {
	ws := dial(t)

	hello := read(t, ws)
	assert.Equal(t, "connected", hello.Type)

	data, err := json.Marshal(chat.Inbound{EventID: "e1", SenderID: "42", Text: "hey", MentionsBot: true})
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "event", "persona": "pip", "data": json.RawMessage(data)}))

	reply := read(t, ws)
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "e1", reply.EventID)
	var text map[string]string
	require.NoError(t, json.Unmarshal(reply.Data, &text))
	assert.Equal(t, "hi from the gateway", text["text"])

	result := read(t, ws)
	assert.Equal(t, "result", result.Type)
	var out relay.Outcome
	require.NoError(t, json.Unmarshal(result.Data, &out))
	assert.Equal(t, relay.StateReplied, out.State)
}

func TestGatewayRejectsUnknownInput(t *testing.T) {
	ws := dial(t)
	read(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "dance"}))
	assert.Equal(t, "error", read(t, ws).Type)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "event", "persona": "nobody", "data": map[string]any{}}))
	assert.Equal(t, "error", read(t, ws).Type)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, "pong", read(t, ws).Type)
}
