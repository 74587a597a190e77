package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/dmail/api/rest"
	"github.com/kasuganosora/dmail/api/sse"
	"github.com/kasuganosora/dmail/audit"
	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/config"
	"github.com/kasuganosora/dmail/mail"
	mw "github.com/kasuganosora/dmail/middleware"
	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/plugin/hook"
	"github.com/kasuganosora/dmail/scheduler"
	"github.com/kasuganosora/dmail/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// AdminKey is the X-Admin-Key accepted by the test server.
const AdminKey = "integration-admin-key"

// SpamWord makes any message containing it spam.
const SpamWord = "casino"

// TestServer wraps a real HTTP server with every mail subsystem wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Store  *mail.Store
	Audit  *audit.Service
	Sched  *scheduler.Scheduler
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	Sec    config.SecurityConfig
	Mail   config.MailConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go. tune may adjust the mail
// configuration before anything is built.
func NewTestServer(t *testing.T, tune ...func(*config.MailConfig)) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	_, err := model.EnsureSystemUser(db)
	require.NoError(t, err)

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}
	mcfg := config.Default().Mail
	mcfg.TokenSecret = "integration-token-secret"
	mcfg.AutobanThreshold = 3
	mcfg.SpamKeywords = map[string]int{SpamWord: 5}
	mcfg.SpamThreshold = 5
	for _, fn := range tune {
		fn(&mcfg)
	}

	// ---- Audit and hooks ----
	auditSvc := audit.New(db, logger)
	hooks := hook.NewHookCenter()
	for event, action := range map[string]string{
		hook.OnMailSent:       "mail.sent",
		hook.OnMailRead:       "mail.read",
		hook.OnMailDeleted:    "mail.deleted",
		hook.OnMailUndeleted:  "mail.undeleted",
		hook.OnUserAutobanned: "user.autobanned",
		hook.OnUserBanned:     "user.banned",
		hook.OnUserUnbanned:   "user.unbanned",
	} {
		hooks.Register(event, 100, "audit", auditSvc.Recorder(action))
	}

	// ---- Mail ----
	store := mail.NewStore(db, mcfg, mail.Options{
		Spam:     mail.NewKeywordClassifier(mcfg.SpamKeywords, mcfg.SpamThreshold),
		Notifier: mail.NewPubSubNotifier(pubsub, mail.UserNames(db, c, logger), logger),
		Hooks:    hooks,
		Cache:    c,
	}, logger)

	sched := scheduler.New(logger)
	sched.AddTicker("ban_sweep", mcfg.BanSweepInterval, func(ctx context.Context) error {
		_, err := store.Sanctions().ExpireLapsed(ctx)
		return err
	})

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(db, c, sec)
	mailH := apirest.NewMailHandler(store, logger)
	blockH := apirest.NewBlockHandler(store, logger)
	adminH := apirest.NewAdminHandler(db, store, sched, logger)
	auth := mw.Auth(sec, c)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		mailG := api.Group("/mail")
		mailG.Use(auth)
		mailG.GET("", mailH.Search)
		mailG.GET("/status", mailH.Status)
		mailG.POST("", mailH.Send)
		mailG.POST("/mark_all_read", mailH.MarkAllRead)
		mailG.PUT("/filter", mailH.SetFilter)
		mailG.GET("/:id", mailH.Show)
		mailG.POST("/:id/read", mailH.Read)
		mailG.DELETE("/:id", mailH.Delete)
		mailG.POST("/:id/undelete", mailH.Undelete)

		blocksG := api.Group("/blocks")
		blocksG.Use(auth)
		blocksG.GET("", blockH.List)
		blocksG.POST("/:id", blockH.Block)
		blocksG.DELETE("/:id", blockH.Unblock)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(AdminKey))
		adminG.GET("/stats", adminH.Stats)
		adminG.GET("/bans", adminH.ListBans)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.DELETE("/users/:id/ban", adminH.UnbanUser)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	ts := &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Store:  store,
		Audit:  auditSvc,
		Sched:  sched,
		Server: server,
		URL:    server.URL,
		Sec:    sec,
		Mail:   mcfg,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and its background workers. It is
// registered as a cleanup and safe to call again.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Sched.Stop()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, header ...string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		if header[i+1] != "" {
			req.Header.Set(header[i], header[i+1])
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func bearer(token string) (string, string) {
	if token == "" {
		return "Authorization", ""
	}
	return "Authorization", "Bearer " + token
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	k, v := bearer(token)
	return ts.do(t, http.MethodPost, path, body, k, v)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	k, v := bearer(token)
	return ts.do(t, http.MethodGet, path, nil, k, v)
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	k, v := bearer(token)
	return ts.do(t, http.MethodDelete, path, nil, k, v)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	k, v := bearer(token)
	return ts.do(t, http.MethodPut, path, body, k, v)
}

// Admin sends an admin request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, method, path, body, "X-Admin-Key", AdminKey)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// RequireStatus closes resp after checking its status code.
func RequireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		require.Equal(t, want, resp.StatusCode, "body: %s", string(data))
	}
}

// --- Auth helpers ---

// Login logs in (auto-registers on first call) and returns the token and user ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
		"email":    username + "@example.com",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	userID = int64(result["user_id"].(float64))
	return
}

// --- Mail helpers ---

// MailView is a copy as returned by the mail endpoints.
type MailView struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	FromID    int64  `json:"from_id"`
	ToID      int64  `json:"to_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	IsRead    bool   `json:"is_read"`
	IsDeleted bool   `json:"is_deleted"`
	IsSpam    bool   `json:"is_spam"`
	Key       string `json:"key"`
}

// Send posts a message and returns the sender's copy.
func (ts *TestServer) Send(t *testing.T, token, to, title, body string) MailView {
	t.Helper()
	resp := ts.PostJSON(t, "/api/mail", map[string]string{"to_name": to, "title": title, "body": body}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		Mail MailView `json:"mail"`
	}
	ReadJSON(t, resp, &out)
	return out.Mail
}

// Search runs a mail search with the given raw query string.
func (ts *TestServer) Search(t *testing.T, token, query string) []MailView {
	t.Helper()
	resp := ts.Get(t, "/api/mail?"+query, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Mails []MailView `json:"mails"`
	}
	ReadJSON(t, resp, &out)
	return out.Mails
}

// Status returns the user's has_mail and unread count.
func (ts *TestServer) Status(t *testing.T, token string) mail.Status {
	t.Helper()
	resp := ts.Get(t, "/api/mail/status", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st mail.Status
	ReadJSON(t, resp, &st)
	return st
}

// --- SSE client ---

// SSEEvent is one server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// SSEClient reads a /sse stream in the background.
type SSEClient struct {
	events chan SSEEvent
	cancel context.CancelFunc
}

// ConnectSSE opens the event stream for token and waits for the
// connected event.
func (ts *TestServer) ConnectSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := &SSEClient{events: make(chan SSEEvent, 64), cancel: cancel}
	go sc.readLoop(resp.Body)
	t.Cleanup(sc.Close)

	ev, ok := sc.Next(5 * time.Second)
	require.True(t, ok, "no connected event")
	require.Equal(t, "connected", ev.Name)
	return sc
}

func (sc *SSEClient) readLoop(body io.ReadCloser) {
	defer close(sc.events)
	defer body.Close()
	rd := bufio.NewReader(body)
	var ev SSEEvent
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			ev.Name = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "data:"); ok {
			ev.Data = strings.TrimSpace(v)
		} else if line == "" && ev.Name != "" {
			sc.events <- ev
			ev = SSEEvent{}
		}
	}
}

// Next returns the next event, or false after timeout.
func (sc *SSEClient) Next(timeout time.Duration) (SSEEvent, bool) {
	select {
	case ev, ok := <-sc.events:
		return ev, ok
	case <-time.After(timeout):
		return SSEEvent{}, false
	}
}

// NextNotice waits for the next "mail" event and decodes it.
func (sc *SSEClient) NextNotice(t *testing.T, timeout time.Duration) mail.Notice {
	t.Helper()
	for {
		ev, ok := sc.Next(timeout)
		require.True(t, ok, "no mail notice")
		if ev.Name != "mail" {
			continue
		}
		var n mail.Notice
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &n))
		return n
	}
}

// Close ends the stream.
func (sc *SSEClient) Close() { sc.cancel() }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

var testCounter uint64

// UniqueID returns a short unique string suitable for usernames.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
