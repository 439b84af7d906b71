package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalitaforms/internal/reference"
)

type wireMsg struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// readUntil читает сообщения, пока ok не вернёт true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, ok func(wireMsg) bool) wireMsg {
	t.Helper()
	for {
		var m wireMsg
		require.NoError(t, wsjson.Read(ctx, conn, &m))
		if ok(m) {
			return m
		}
	}
}

func stateWhere(t *testing.T, pred func(reference.State) bool) func(wireMsg) bool {
	return func(m wireMsg) bool {
		if m.Type != "state" {
			return false
		}
		var st reference.State
		require.NoError(t, json.Unmarshal(m.Data, &st))
		return pred(st)
	}
}

func TestPickerSocket(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "crm", "Customer", map[string]any{"name": "CUST-0007", "customer_name": "Acme Co"})

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/picker/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	send := func(typ, id string, data any) {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": typ, "id": id, "data": json.RawMessage(raw)}))
	}

	readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "session" })

	// поле без активного контекста
	send("focus", "0", map[string]any{"field": "customer"})
	errMsg := readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "error" })
	assert.Equal(t, "0", errMsg.RequestID)

	send("context", "1", map[string]any{"table": "crm.Order"})
	readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "context" && m.RequestID == "1" })

	send("open", "2", map[string]any{"field": "customer"})
	readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "state" && m.RequestID == "2" })

	send("focus", "3", map[string]any{"field": "customer"})
	populated := readUntil(t, ctx, conn, stateWhere(t, func(st reference.State) bool {
		return st.Status == reference.StatusPopulated && len(st.Items) == 3
	}))
	var shown reference.State
	require.NoError(t, json.Unmarshal(populated.Data, &shown))

	// клик по списку, которого уже нет
	send("select", "4a", map[string]any{"field": "customer", "index": 0, "list": shown.List + 1})
	errMsg = readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "error" && m.RequestID == "4a" })
	var ed ErrorData
	require.NoError(t, json.Unmarshal(errMsg.Data, &ed))
	assert.Equal(t, "stale_list", ed.Code)

	send("select", "4", map[string]any{"field": "customer", "index": 0, "list": shown.List})
	act := readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "action" && m.RequestID == "4" })
	var ad ActionData
	require.NoError(t, json.Unmarshal(act.Data, &ad))
	assert.Equal(t, reference.ActionSelected, ad.Action.Kind)
	assert.Equal(t, "CUST-0007", ad.Action.Value)

	// создание новой записи из пикера и закрытие окна хостом
	send("input", "5", map[string]any{"field": "customer", "term": "Initech"})
	readUntil(t, ctx, conn, stateWhere(t, func(st reference.State) bool {
		return st.Term == "Initech" && st.Status == reference.StatusEmpty
	}))
	send("create", "6", map[string]any{"field": "customer"})
	act = readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "action" && m.RequestID == "6" })
	require.NoError(t, json.Unmarshal(act.Data, &ad))
	assert.Equal(t, reference.ActionCreate, ad.Action.Kind)
	assert.Contains(t, ad.Action.URL, "prefill=Initech")

	tok := ad.Action.URL[strings.Index(ad.Action.URL, "create_context=")+len("create_context="):]
	if i := strings.IndexByte(tok, '&'); i >= 0 {
		tok = tok[:i]
	}
	resp, err := http.Post(ts.URL+"/api/create-contexts/"+tok+"/close", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	readUntil(t, ctx, conn, stateWhere(t, func(st reference.State) bool { return st.Stale }))

	send("ping", "7", nil)
	readUntil(t, ctx, conn, func(m wireMsg) bool { return m.Type == "pong" && m.RequestID == "7" })
}
