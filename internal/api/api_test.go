package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lireddit/lireddit/internal/cache"
	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/mail"
	"github.com/lireddit/lireddit/internal/posts"
	"github.com/lireddit/lireddit/internal/session"
	"github.com/lireddit/lireddit/internal/testutil"
	"github.com/lireddit/lireddit/internal/users"
	"github.com/lireddit/lireddit/internal/voting"
	"github.com/lireddit/lireddit/pkg/config"
)

type testServer struct {
	engine *gin.Engine
	db     *db.DB
}

type rpcResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *JSONRPCError   `json:"error"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.SetupTestDB(t)
	store := cache.NewMemory()
	repo := db.NewRepository(database.DB)
	sessions := session.NewManager(store, &config.SessionConfig{Secret: "test", CookieName: "qid", TTL: time.Hour})

	services := Services{
		DB:       database,
		Cache:    store,
		Sessions: sessions,
		Posts:    posts.NewService(repo, zap.NewNop()),
		Voting:   voting.NewService(database.DB, 3, zap.NewNop()),
		Users: users.NewService(repo, store, sessions, mail.NewLogSender(zap.NewNop()),
			&config.AuthConfig{ResetTokenTTL: time.Hour, ResetURL: "http://localhost:3000/change-password/"}, zap.NewNop()),
	}

	engine := gin.New()
	NewRouter(services, &config.ServerConfig{CORSOrigin: "http://localhost:3000", RateLimitPerMinute: 10000}).SetupRoutes(engine)
	return &testServer{engine: engine, db: database}
}

func (s *testServer) post(t *testing.T, body, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "qid", Value: cookie})
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) call(t *testing.T, method, params, cookie string) rpcResponse {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":1,"method":"` + method + `"`
	if params != "" {
		body += `,"params":` + params
	}
	body += "}"

	w := s.post(t, body, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("%s: HTTP %d", method, w.Code)
	}
	var resp rpcResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s: bad response %q: %v", method, w.Body.String(), err)
	}
	return resp
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":1,"method":"register","params":{"options":{"username":"` + username +
		`","email":"` + username + `@example.com","password":"secret"}}}`
	w := s.post(t, body, "")
	for _, c := range w.Result().Cookies() {
		if c.Name == "qid" && c.Value != "" {
			return c.Value
		}
	}
	t.Fatalf("register %s set no session cookie: %s", username, w.Body.String())
	return ""
}

func TestJSONRPCProtocolErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, ErrParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"me"}`, ErrInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"nope"}`, ErrMethodNotFound},
		{"empty batch", `[]`, ErrInvalidRequest},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"post","params":{"id":"x"}}`, ErrInvalidParams},
		{"missing id", `{"jsonrpc":"2.0","id":1,"method":"post","params":{}}`, ErrInvalidParams},
		{"bad cursor", `{"jsonrpc":"2.0","id":1,"method":"posts","params":{"limit":5,"cursor":"soon"}}`, ErrInvalidParams},
		{"anonymous mutation", `{"jsonrpc":"2.0","id":1,"method":"createPost","params":{"input":{"title":"t","text":"x"}}}`, ErrNotAuthenticated},
		{"anonymous vote", `{"jsonrpc":"2.0","id":1,"method":"vote","params":{"postId":1,"value":1}}`, ErrNotAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.post(t, tt.body, "")
			var resp rpcResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("bad response %q: %v", w.Body.String(), err)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestVoteFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	resp := s.call(t, "createPost", `{"input":{"title":"hello","text":"world"}}`, alice)
	if resp.Error != nil {
		t.Fatalf("createPost error: %+v", resp.Error)
	}
	var created struct {
		ID      int64 `json:"id"`
		Points  int64 `json:"points"`
		Creator struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"creator"`
	}
	json.Unmarshal(resp.Result, &created)
	if created.ID == 0 || created.Creator.Username != "alice" || created.Creator.Email != "alice@example.com" {
		t.Fatalf("createPost result = %s", resp.Result)
	}

	steps := []struct {
		value  int
		points int64
	}{
		{1, 1},
		{1, 1},
		{-1, -1},
	}
	for i, step := range steps {
		params := `{"postId":` + jsonInt(created.ID) + `,"value":` + jsonInt(int64(step.value)) + `}`
		resp := s.call(t, "vote", params, bob)
		if resp.Error != nil || string(resp.Result) != "true" {
			t.Fatalf("step %d: vote = %s %+v", i, resp.Result, resp.Error)
		}

		resp = s.call(t, "post", `{"id":`+jsonInt(created.ID)+`}`, bob)
		var got struct {
			Points     int64 `json:"points"`
			VoteStatus *int  `json:"voteStatus"`
			Creator    struct {
				Email string `json:"email"`
			} `json:"creator"`
		}
		json.Unmarshal(resp.Result, &got)
		if got.Points != step.points {
			t.Errorf("step %d: points = %d, want %d", i, got.Points, step.points)
		}
		if got.VoteStatus == nil || *got.VoteStatus != step.value {
			t.Errorf("step %d: voteStatus = %v, want %d", i, got.VoteStatus, step.value)
		}
		if got.Creator.Email != "" {
			t.Errorf("step %d: creator email leaked to another user", i)
		}
	}

	resp = s.call(t, "vote", `{"postId":`+jsonInt(created.ID)+`,"value":2}`, bob)
	if resp.Error == nil || resp.Error.Code != ErrInvalidParams {
		t.Errorf("vote value 2 error = %+v, want invalid params", resp.Error)
	}

	// anonymous readers see no vote status
	resp = s.call(t, "post", `{"id":`+jsonInt(created.ID)+`}`, "")
	if !strings.Contains(string(resp.Result), `"voteStatus":null`) {
		t.Errorf("anonymous post = %s", resp.Result)
	}
}

func TestOwnershipOverAPI(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	mallory := s.register(t, "mallory")

	resp := s.call(t, "createPost", `{"input":{"title":"mine","text":"body"}}`, alice)
	var created struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(resp.Result, &created)
	id := jsonInt(created.ID)

	resp = s.call(t, "updatePost", `{"id":`+id+`,"title":"hijack","text":"x"}`, mallory)
	if resp.Error != nil || string(resp.Result) != "null" {
		t.Errorf("non-owner updatePost = %s %+v, want null", resp.Result, resp.Error)
	}
	resp = s.call(t, "deletePost", `{"id":`+id+`}`, mallory)
	if resp.Error != nil || string(resp.Result) != "false" {
		t.Errorf("non-owner deletePost = %s %+v, want false", resp.Result, resp.Error)
	}

	resp = s.call(t, "updatePost", `{"id":`+id+`,"title":"edited","text":"new"}`, alice)
	if !strings.Contains(string(resp.Result), `"title":"edited"`) {
		t.Errorf("owner updatePost = %s", resp.Result)
	}
	resp = s.call(t, "deletePost", `{"id":`+id+`}`, alice)
	if string(resp.Result) != "true" {
		t.Errorf("owner deletePost = %s", resp.Result)
	}
	resp = s.call(t, "post", `{"id":`+id+`}`, alice)
	if string(resp.Result) != "null" {
		t.Errorf("deleted post = %s", resp.Result)
	}
}

func TestPostsPageCoalescesLookups(t *testing.T) {
	s := newTestServer(t)
	viewer := s.register(t, "viewer")

	authors := []int64{
		testutil.CreateTestUser(t, s.db, "a1").ID,
		testutil.CreateTestUser(t, s.db, "a2").ID,
		testutil.CreateTestUser(t, s.db, "a3").ID,
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		testutil.CreateTestPost(t, s.db, authors[i%3], "p", base.Add(time.Duration(i)*time.Second))
	}

	var mu sync.Mutex
	counts := map[string]int{}
	s.db.Callback().Query().After("gorm:query").Register("test:count", func(tx *gorm.DB) {
		mu.Lock()
		counts[tx.Statement.Table]++
		mu.Unlock()
	})

	resp := s.call(t, "posts", `{"limit":10}`, viewer)
	if resp.Error != nil {
		t.Fatalf("posts error: %+v", resp.Error)
	}
	var page struct {
		Posts   []json.RawMessage `json:"posts"`
		HasMore bool              `json:"hasMore"`
		Cursor  *string           `json:"cursor"`
	}
	json.Unmarshal(resp.Result, &page)
	if len(page.Posts) != 10 || page.HasMore || page.Cursor == nil {
		t.Errorf("page = %d posts, hasMore=%v, cursor=%v", len(page.Posts), page.HasMore, page.Cursor)
	}

	if counts["users"] != 1 {
		t.Errorf("expected 1 users query for the page, got %d", counts["users"])
	}
	if counts["votes"] != 1 {
		t.Errorf("expected 1 votes query for the page, got %d", counts["votes"])
	}
}

func TestBatchSharesIdentity(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"me"},
		{"jsonrpc":"2.0","id":2,"method":"createPost","params":{"input":{"title":"one","text":"x"}}},
		{"jsonrpc":"2.0","id":3,"method":"nope"},
		{"jsonrpc":"2.0","id":4,"method":"posts","params":{"limit":5}}
	]`
	w := s.post(t, body, alice)

	var resps []rpcResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resps); err != nil {
		t.Fatalf("bad batch response %q: %v", w.Body.String(), err)
	}
	if len(resps) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(resps))
	}
	if !strings.Contains(string(resps[0].Result), `"username":"alice"`) {
		t.Errorf("me = %s", resps[0].Result)
	}
	if resps[1].Error != nil {
		t.Errorf("createPost error = %+v", resps[1].Error)
	}
	if resps[2].Error == nil || resps[2].Error.Code != ErrMethodNotFound {
		t.Errorf("unknown method in batch = %+v", resps[2])
	}
	if !strings.Contains(string(resps[3].Result), `"title":"one"`) {
		t.Errorf("posts = %s", resps[3].Result)
	}
}

func TestLoginLogout(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice")

	resp := s.call(t, "login", `{"usernameOrEmail":"alice","password":"nope"}`, "")
	if !strings.Contains(string(resp.Result), `"field":"password"`) {
		t.Errorf("bad login = %s", resp.Result)
	}

	w := s.post(t, `{"jsonrpc":"2.0","id":1,"method":"login","params":{"usernameOrEmail":"alice@example.com","password":"secret"}}`, "")
	var token string
	for _, c := range w.Result().Cookies() {
		if c.Name == "qid" {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatalf("login set no cookie: %s", w.Body.String())
	}

	if resp := s.call(t, "me", "", token); !strings.Contains(string(resp.Result), `"email":"alice@example.com"`) {
		t.Errorf("me = %s", resp.Result)
	}

	if resp := s.call(t, "logout", "", token); string(resp.Result) != "true" {
		t.Errorf("logout = %s", resp.Result)
	}
	if resp := s.call(t, "me", "", token); string(resp.Result) != "null" {
		t.Errorf("me after logout = %s", resp.Result)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"OK"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(4)
	now := time.Now()
	rl.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow("1.2.3.4") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("expected burst of 2, got %d", allowed)
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other clients must have their own bucket")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Error("bucket did not refill")
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRateLimiterDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		rl.Allow(ip)
	}

	now = now.Add(2 * time.Minute)
	rl.Allow("10.0.0.4")
	if n := len(rl.limiters); n != 4 {
		t.Errorf("expected 4 tracked clients before they go idle, got %d", n)
	}

	now = now.Add(limiterIdle)
	rl.Allow("10.0.0.4")
	if n := len(rl.limiters); n != 1 {
		t.Errorf("expected idle clients to be dropped, %d tracked", n)
	}
	if _, ok := rl.limiters["10.0.0.4"]; !ok {
		t.Error("active client was dropped")
	}
}

func TestRequestBodyLimit(t *testing.T) {
	s := newTestServer(t)

	big := `{"jsonrpc":"2.0","id":1,"method":"me","params":{"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}}`
	w := s.post(t, big, "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: HTTP %d, want 413", w.Code)
	}
	var resp rpcResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response %q: %v", w.Body.String(), err)
	}
	if resp.Error == nil || resp.Error.Code != ErrInvalidRequest {
		t.Errorf("oversized body error = %+v, want invalid request", resp.Error)
	}

	if resp := s.call(t, "me", `{"pad":"small"}`, ""); resp.Error != nil {
		t.Errorf("small body error = %+v", resp.Error)
	}
}

func TestPostContentRoundTrip(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	title := "Tom & Jerry: why 1 < 2"
	text := strings.Repeat("a<b ", 20)
	params, _ := json.Marshal(map[string]interface{}{
		"input": map[string]string{"title": title, "text": text},
	})
	resp := s.call(t, "createPost", string(params), alice)
	if resp.Error != nil {
		t.Fatalf("createPost error: %+v", resp.Error)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(resp.Result, &created)

	resp = s.call(t, "post", `{"id":`+jsonInt(created.ID)+`}`, "")
	var got struct {
		Title       string `json:"title"`
		Text        string `json:"text"`
		TextSnippet string `json:"textSnippet"`
	}
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("post = %s: %v", resp.Result, err)
	}
	if got.Title != title || got.Text != text {
		t.Errorf("post = (%q, %q), want (%q, %q)", got.Title, got.Text, title, text)
	}
	if got.TextSnippet != text[:50] {
		t.Errorf("textSnippet = %q, want %q", got.TextSnippet, text[:50])
	}
}
