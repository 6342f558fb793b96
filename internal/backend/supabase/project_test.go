package supabase_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"tasksync/internal/backend/supabase"
	"tasksync/internal/credstore"
	"tasksync/internal/service"
)

const anonKey = "anon-key"

// frame is a realtime frame as seen by the fake project.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref"`
}

// fakeProject serves just enough of the hosted APIs for the client.
type fakeProject struct {
	server *httptest.Server

	mu           sync.Mutex
	users        map[string]string
	rows         []service.Task
	nextID       int64
	objects      map[string][]byte
	requests     map[string]*http.Request
	refreshCalls int
	logoutAuth   string
	frames       []frame
	rejectJoin   bool

	push chan []byte
}

func newFakeProject(t *testing.T) *fakeProject {
	t.Helper()
	p := &fakeProject{
		users:    map[string]string{"me@example.com": "secret"},
		nextID:   1,
		objects:  make(map[string][]byte),
		requests: make(map[string]*http.Request),
		push:     make(chan []byte, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/signup", p.signup)
	mux.HandleFunc("POST /auth/v1/token", p.token)
	mux.HandleFunc("POST /auth/v1/logout", p.logout)
	mux.HandleFunc("/rest/v1/tasks", p.tasks)
	mux.HandleFunc("POST /storage/v1/object/todo-images/{key...}", p.upload)
	mux.HandleFunc("GET /realtime/v1/websocket", p.realtime)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProject) client(t *testing.T, sessions credstore.Storage) *supabase.Client {
	t.Helper()
	c, err := supabase.New(supabase.Options{
		URL:               p.server.URL,
		AnonKey:           anonKey,
		Table:             "tasks",
		Bucket:            "todo-images",
		Sessions:          sessions,
		HeartbeatInterval: 20 * time.Millisecond,
		JoinTimeout:       time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func (p *fakeProject) record(key string, r *http.Request) {
	p.mu.Lock()
	p.requests[key] = r
	p.mu.Unlock()
}

func (p *fakeProject) request(key string) *http.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[key]
}

func (p *fakeProject) logoutHeader() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logoutAuth
}

func (p *fakeProject) refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *fakeProject) object(key string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.objects[key]
}

func (p *fakeProject) receivedFrames() []frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]frame(nil), p.frames...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sessionBody(access, refresh, email string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    time.Now().Add(time.Hour).Unix(),
		"refresh_token": refresh,
		"user":          map[string]string{"id": "user-" + email, "email": email},
	}
}

func (p *fakeProject) signup(w http.ResponseWriter, r *http.Request) {
	var creds struct{ Email, Password string }
	_ = json.NewDecoder(r.Body).Decode(&creds)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[creds.Email]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}
	p.users[creds.Email] = creds.Password
	if strings.HasPrefix(creds.Email, "confirm") {
		writeJSON(w, http.StatusOK, map[string]string{"id": "user-" + creds.Email, "email": creds.Email})
		return
	}
	writeJSON(w, http.StatusOK, sessionBody("access-"+creds.Email, "refresh-1", creds.Email))
}

func (p *fakeProject) token(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var creds struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&creds)
		p.mu.Lock()
		pw, ok := p.users[creds.Email]
		p.mu.Unlock()
		if !ok || pw != creds.Password {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, sessionBody("access-1", "refresh-1", creds.Email))
	case "refresh_token":
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.refreshCalls++
		p.mu.Unlock()
		if body.RefreshToken == "revoked" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, sessionBody("access-refreshed", "refresh-2", "me@example.com"))
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
	}
}

func (p *fakeProject) logout(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.logoutAuth = r.Header.Get("Authorization")
	p.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (p *fakeProject) tasks(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	p.record(r.Method+" tasks", r)

	if r.Header.Get("Authorization") == "Bearer expired-access" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "PGRST301", "message": "JWT expired"})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, p.rows)
	case http.MethodPost:
		var task service.Task
		_ = json.Unmarshal(body, &task)
		task.ID = p.nextID
		p.nextID++
		p.rows = append(p.rows, task)
		writeJSON(w, http.StatusCreated, []service.Task{task})
	case http.MethodPatch:
		id := idParam(r)
		var fields service.TaskFields
		_ = json.Unmarshal(body, &fields)
		updated := []service.Task{}
		for i := range p.rows {
			if p.rows[i].ID == id {
				p.rows[i].Title = fields.Title
				p.rows[i].Description = fields.Description
				updated = append(updated, p.rows[i])
			}
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		id := idParam(r)
		kept := p.rows[:0]
		for _, row := range p.rows {
			if row.ID != id {
				kept = append(kept, row)
			}
		}
		p.rows = kept
		w.WriteHeader(http.StatusNoContent)
	}
}

func idParam(r *http.Request) int64 {
	id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Query().Get("id"), "eq."), 10, 64)
	return id
}

func (p *fakeProject) upload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	body, _ := io.ReadAll(r.Body)
	p.record("upload", r)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.objects[key]; exists && r.Header.Get("x-upsert") != "true" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "409", "error": "Duplicate", "message": "The resource already exists"})
		return
	}
	p.objects[key] = body
	writeJSON(w, http.StatusOK, map[string]string{"Key": "todo-images/" + key, "Id": "obj-1"})
}

var upgrader = websocket.Upgrader{}

func (p *fakeProject) realtime(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("apikey") != anonKey || r.URL.Query().Get("vsn") != "1.0.0" {
		http.Error(w, "bad query", http.StatusForbidden)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var join frame
	if err := conn.ReadJSON(&join); err != nil {
		return
	}
	p.mu.Lock()
	p.frames = append(p.frames, join)
	reject := p.rejectJoin
	p.mu.Unlock()

	status := "ok"
	if reject {
		status = "error"
	}
	_ = conn.WriteJSON(frame{
		Topic:   join.Topic,
		Event:   "phx_reply",
		Payload: json.RawMessage(`{"status":"` + status + `","response":{}}`),
		Ref:     join.Ref,
		JoinRef: join.Ref,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			p.mu.Lock()
			p.frames = append(p.frames, f)
			p.mu.Unlock()
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-p.push:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// changeFrame builds a postgres_changes frame for the tasks channel.
func changeFrame(t *testing.T, table string, ev service.ChangeEvent) []byte {
	t.Helper()
	payload, err := service.NewChangePayload("public", table, ev)
	if err != nil {
		t.Fatalf("change payload: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"topic":   "realtime:tasks-channel",
		"event":   "postgres_changes",
		"payload": map[string]any{"ids": []int64{1}, "data": payload},
		"ref":     nil,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return body
}
