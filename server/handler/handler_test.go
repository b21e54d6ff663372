package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"battlecore/server/application"
	"battlecore/server/auth"
	"battlecore/server/domain"
	"battlecore/server/handler"
	"battlecore/server/results"

	"github.com/coder/websocket"
)

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handler.NewHealthHandler()(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBattlesHandler(t *testing.T) {
	store := results.NewConcurrentStore(results.NewStore())
	store.Track("b1").OnBattleEnded(context.Background(), &application.BattleResults{BattleID: "b1", Rounds: 4}, nil)

	h := handler.NewBattlesHandler(store)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /battles", h.List)
	mux.HandleFunc("GET /battles/{id}", h.Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/battles", nil))
	var list []results.Entry
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].BattleID != "b1" || list[0].Status != results.StatusFinished {
		t.Errorf("list = %+v", list)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/battles/b1", nil))
	var entry results.Entry
	if err := json.NewDecoder(rec.Body).Decode(&entry); err != nil {
		t.Fatal(err)
	}
	if entry.Results == nil || entry.Results.Rounds != 4 {
		t.Errorf("entry = %+v", entry)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/battles/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing battle status = %d", rec.Code)
	}
}

type robotFixture struct {
	server    *httptest.Server
	authority *auth.Authority
	remote    *application.RemoteController
}

func newRobotFixture(t *testing.T) *robotFixture {
	t.Helper()
	authority, err := auth.NewAuthority("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	remote := application.NewRemoteController("hosted")
	pubsub := domain.NewSimplePubSub()
	rooms := domain.NewSimpleRoomManager(domain.NewRoomID())
	config := domain.EndpointConfig{IdleTimeout: time.Minute}
	h, err := handler.NewRobotHandler(pubsub, rooms, authority, map[string]*application.RemoteController{"hosted": remote}, config)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &robotFixture{server: srv, authority: authority, remote: remote}
}

func (f *robotFixture) token(t *testing.T, robot string) string {
	t.Helper()
	token, err := f.authority.Issue(robot, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestRobotHandler_Rejects(t *testing.T) {
	f := newRobotFixture(t)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "no token", want: http.StatusUnauthorized},
		{name: "bad token", token: "junk", want: http.StatusUnauthorized},
		{name: "unknown robot", token: f.token(t, "stranger"), want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", f.server.URL, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRobotHandler_AttachesRemote(t *testing.T) {
	f := newRobotFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + f.token(t, "hosted")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageBinary {
		t.Errorf("message type = %v", typ)
	}
	frame, err := domain.ParseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if frame.PayloadHeader.DataType != domain.DataTypeControl || domain.ControlSubType(frame.PayloadHeader.SubType) != domain.ControlSubTypeAssign {
		t.Errorf("first frame = %+v", frame.PayloadHeader)
	}
	if !f.remote.IsAttached() {
		t.Fatal("remote controller not attached")
	}

	// 同じロボットへの2本目の接続は拒否される
	resp, err := http.Get(f.server.URL + "?token=" + f.token(t, "hosted"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second connection status = %d, want 409", resp.StatusCode)
	}

	// 命令は RemoteController にそのまま届く
	payload, err := application.EncodeCommandSet(application.CommandSet{Turn: 1})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := domain.EncodeMessage(frame.Header.SessionID, domain.DataTypeCommand, 0, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
		t.Fatal(err)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for f.remote.IsAttached() {
		if time.Now().After(deadline) {
			t.Fatal("remote controller still attached after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAcceptHandler_AssignsSession(t *testing.T) {
	pubsub := domain.NewSimplePubSub()
	rooms := domain.NewSimpleRoomManager(domain.NewRoomID())
	srv := httptest.NewServer(handler.NewAcceptHandler(pubsub, rooms, domain.DefaultEndpointConfig()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := domain.ParseFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if domain.ControlSubType(frame.PayloadHeader.SubType) != domain.ControlSubTypeAssign || domain.SessionIDFromBytes(frame.Header.SessionID).IsEmpty() {
		t.Errorf("assign frame = %+v", frame)
	}
}
