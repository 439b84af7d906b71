package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kalitaforms/internal/dsl"
	"kalitaforms/internal/form"
	"kalitaforms/internal/reference"
)

// ClientMessage: конверт сообщений клиента пикера.
type ClientMessage struct {
	Type string          `json:"type"` // context, open, focus, input, key, select, create, close, ping
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage: конверт ответов: session, context, state, action, error, pong.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type ContextData struct {
	Table    string `json:"table"`
	RecordID string `json:"recordId,omitempty"`
}

// PickerData: поле и, по типу сообщения, его аргумент.
type PickerData struct {
	Field string `json:"field"`
	Value string `json:"value,omitempty"` // open: сохранённое значение
	Term  string `json:"term,omitempty"`  // input
	Key   string `json:"key,omitempty"`   // key: up/down/enter/escape
	Index int    `json:"index,omitempty"` // select
	List  uint64 `json:"list,omitempty"`  // select: State.List, по которому кликнули
}

type ActionData struct {
	Field  string           `json:"field"`
	Action reference.Action `json:"action"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// pickerConn: одно websocket-соединение пикеров.
type pickerConn struct {
	srv  *Server
	conn *websocket.Conn
	sess *form.Session
	log  logrus.FieldLogger

	mu     sync.Mutex
	hooked map[*reference.Picker]struct{}
}

// GET /api/picker/ws?session=...
func PickerSocketHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			srv.Log.WithError(err).Warn("picker: websocket accept")
			return
		}
		defer conn.CloseNow()

		sess := srv.Sessions.Get(c.Query("session"))
		owned := sess == nil
		if owned {
			sess = srv.Sessions.Create(srv.base)
			defer srv.Sessions.Remove(sess.ID)
		}

		pc := &pickerConn{
			srv:    srv,
			conn:   conn,
			sess:   sess,
			log:    srv.Log.WithField("session", sess.ID),
			hooked: map[*reference.Picker]struct{}{},
		}
		defer pc.unhook()
		pc.serve(c.Request.Context())
	}
}

func (pc *pickerConn) serve(ctx context.Context) {
	pc.send(ctx, ServerMessage{Type: "session", Data: gin.H{"sessionId": pc.sess.ID}})

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, pc.conn, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 {
				pc.log.WithField("status", websocket.CloseStatus(err)).Debug("picker: connection closed")
			}
			return
		}

		switch msg.Type {
		case "context":
			pc.handleContext(ctx, msg)
		case "open", "focus", "input", "key", "select", "create", "close":
			pc.handlePicker(ctx, msg)
		case "ping":
			pc.send(ctx, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			pc.sendError(ctx, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

// handleContext делает (table, record) активным: пикеры прежней пары гаснут.
func (pc *pickerConn) handleContext(ctx context.Context, msg ClientMessage) {
	var data ContextData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		pc.sendError(ctx, msg.ID, "invalid_data", "invalid context data")
		return
	}
	mod, name := splitFQN(data.Table)
	fqn, ok := pc.srv.Storage.ResolveTable(mod, name)
	if !ok {
		pc.sendError(ctx, msg.ID, "not_found", "table not found: "+data.Table)
		return
	}
	_, gen := pc.sess.Switch(fqn, data.RecordID)
	pc.send(ctx, ServerMessage{Type: "context", RequestID: msg.ID, Data: gin.H{
		"table": fqn, "recordId": data.RecordID, "generation": gen,
	}})
}

func (pc *pickerConn) handlePicker(ctx context.Context, msg ClientMessage) {
	var data PickerData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Field == "" {
		pc.sendError(ctx, msg.ID, "invalid_data", "invalid picker data")
		return
	}
	p, err := pc.picker(ctx, data.Field)
	if err != nil {
		code := "picker_unavailable"
		if form.IsNotFound(err) {
			code = "not_found"
		}
		pc.sendError(ctx, msg.ID, code, err.Error())
		return
	}

	var (
		act  reference.Action
		aerr error
	)
	switch msg.Type {
	case "open":
		p.SetCommitted(data.Value)
		pc.send(ctx, ServerMessage{Type: "state", RequestID: msg.ID, Data: p.State()})
		return
	case "focus":
		p.Focus()
		return
	case "input":
		p.Input(data.Term)
		return
	case "close":
		p.Close()
		return
	case "key":
		act, aerr = p.Key(reference.Key(data.Key))
	case "select":
		act, aerr = p.SelectIn(data.List, data.Index)
		if aerr == reference.ErrStaleList {
			pc.sendError(ctx, msg.ID, "stale_list", aerr.Error())
			pc.send(ctx, ServerMessage{Type: "state", RequestID: msg.ID, Data: p.State()})
			return
		}
	case "create":
		act, aerr = p.CreateNew()
	}
	if aerr != nil {
		pc.sendError(ctx, msg.ID, "picker_error", aerr.Error())
		return
	}
	if act.Kind != reference.ActionNone {
		pc.send(ctx, ServerMessage{Type: "action", RequestID: msg.ID, Data: ActionData{Field: data.Field, Action: act}})
	}
}

// picker: пикер поля активной таблицы; каждое его изменение уходит клиенту.
func (pc *pickerConn) picker(ctx context.Context, field string) (*reference.Picker, error) {
	table, _ := pc.sess.Active()
	if table == "" {
		return nil, errors.New("no active form context")
	}
	cfg, err := pc.srv.pickerConfig(ctx, table, field)
	if err != nil {
		return nil, err
	}
	p := pc.sess.Picker(field, func(sctx context.Context) *reference.Picker {
		return reference.NewPicker(sctx, cfg, pc.srv.Storage, pc.srv.Creates, pc.log)
	})

	pc.mu.Lock()
	_, seen := pc.hooked[p]
	pc.hooked[p] = struct{}{}
	pc.mu.Unlock()
	if !seen {
		p.OnChange(func(st reference.State) {
			pc.send(ctx, ServerMessage{Type: "state", Data: st})
		})
	}
	return p, nil
}

// unhook отвязывает пикеры от закрытого соединения; сессия может пережить его.
func (pc *pickerConn) unhook() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for p := range pc.hooked {
		p.OnChange(nil)
	}
	pc.hooked = nil
}

func (pc *pickerConn) send(ctx context.Context, msg ServerMessage) {
	if err := wsjson.Write(ctx, pc.conn, msg); err != nil {
		pc.log.WithError(err).Debug("picker: write failed")
	}
}

func (pc *pickerConn) sendError(ctx context.Context, reqID, code, message string) {
	pc.send(ctx, ServerMessage{
		Type:      "error",
		RequestID: reqID,
		Data:      ErrorData{Code: code, Message: message},
	})
}

// pickerConfig: настройки пикера ссылочного поля field таблицы table.
func (srv *Server) pickerConfig(ctx context.Context, table, field string) (reference.PickerConfig, error) {
	t, err := srv.Storage.schema(table)
	if err != nil {
		return reference.PickerConfig{}, err
	}
	f, ok := t.Field(field)
	if !ok || f.Type != dsl.TypeLink || f.Gallery {
		return reference.PickerConfig{}, errors.Wrapf(form.ErrNotFound, "link field %s.%s", t.FQN(), field)
	}
	target := t.LinkTable(f)
	label := target
	if tt, err := srv.Storage.schema(target); err == nil {
		target = tt.FQN()
		label = tt.EntityName()
	}
	displayField, _, err := srv.Storage.DisplayFieldConfig(ctx, t.FQN(), field)
	if err != nil {
		return reference.PickerConfig{}, err
	}
	return reference.PickerConfig{
		Table:        t.FQN(),
		Field:        field,
		Target:       target,
		TargetLabel:  label,
		DisplayField: displayField,
		PageSize:     srv.Settings.SearchPageSize,
		Debounce:     srv.Settings.SearchDebounce,
		Watch:        srv.Settings.Watch,
	}, nil
}
