package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rtheme/internal/db"
	"github.com/rtheme/internal/handler"
	"github.com/rtheme/internal/router"
	"github.com/rtheme/internal/service"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type e2eSuite struct {
	handler   http.Handler
	visitor   httpClient
	admin     httpClient
	baseURL   string
	adminPass string
	user      db.User
	emails    *recordingEmailSender
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// localClient 把请求直接投递给处理器，无需监听端口；
// 带 jar 的实例会在请求间保持 Cookie，模拟同一个浏览器。
type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler, withJar bool) *localClient {
	var jar http.CookieJar
	if withJar {
		if j, err := cookiejar.New(nil); err == nil {
			jar = j
		}
	}
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	if c.jar != nil {
		for _, cookie := range c.jar.Cookies(req.URL) {
			req.AddCookie(cookie)
		}
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	if c.jar != nil {
		c.jar.SetCookies(req.URL, resp.Cookies())
	}
	return resp, nil
}

type recordingEmailSender struct {
	sent []service.EmailMessage
}

func (r *recordingEmailSender) Send(msg service.EmailMessage) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestE2E_AnalyticsPipeline(t *testing.T) {
	suite := newE2ESuite(t)

	t.Run("public endpoints", suite.testPublicEndpoints)
	t.Run("tracking and flush", suite.testTrackingAndFlush)
	t.Run("report delivery", suite.testReportDelivery)
	t.Run("settings management", suite.testSettingsManagement)
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.User{},
		&db.PageView{},
		&db.PageViewArchive{},
		&db.PathCounter{},
		&db.HealthCheck{},
		&db.Notice{},
		&db.Project{},
		&db.FriendLink{},
		&db.SystemSetting{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	db.DB = gdb

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hashed, err := bcrypt.GenerateFromPassword([]byte("e2e-secret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := db.User{
		Username:      "admin",
		Password:      string(hashed),
		Email:         "admin@example.com",
		EmailVerified: true,
		Role:          db.RoleAdmin,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	emails := &recordingEmailSender{}
	api := handler.NewAPI(gdb, rdb, emails)
	engine := router.SetupRouter(api, "test-session-secret")

	return &e2eSuite{
		handler:   engine,
		visitor:   newLocalClient(engine, true),
		admin:     newLocalClient(engine, true),
		baseURL:   "https://example.test",
		adminPass: "e2e-secret",
		user:      user,
		emails:    emails,
	}
}

func (s *e2eSuite) login(t *testing.T) {
	t.Helper()
	resp := s.postJSON(t, s.admin, "/api/auth/login", map[string]string{
		"username": s.user.Username,
		"password": s.adminPass,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with status %d", resp.StatusCode)
	}
}

func (s *e2eSuite) postJSON(t *testing.T, client httpClient, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	return resp
}

func (s *e2eSuite) request(t *testing.T, client httpClient, method, path string, payload interface{}) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return payload
}

func (s *e2eSuite) testPublicEndpoints(t *testing.T) {
	resp := s.request(t, s.visitor, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health endpoint returned %d", resp.StatusCode)
	}
	payload := decodeJSON(t, resp)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}

	// 管理端点未登录时一律 401
	for _, path := range []string{"/api/stats/overview", "/api/notices", "/api/settings"} {
		resp := s.request(t, newLocalClient(s.handler, false), http.MethodGet, path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s should require auth, got %d", path, resp.StatusCode)
		}
	}

	resp = s.postJSON(t, s.admin, "/api/auth/login", map[string]string{
		"username": s.user.Username,
		"password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password should be rejected, got %d", resp.StatusCode)
	}
}

func (s *e2eSuite) testTrackingAndFlush(t *testing.T) {
	// 同一访客浏览两页，另一访客浏览一页
	for _, path := range []string{"/posts/hello", "/about"} {
		resp := s.postJSON(t, s.visitor, "/api/track", map[string]string{
			"path":    path,
			"referer": "https://news.ycombinator.com/item?id=1",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("track returned %d", resp.StatusCode)
		}
	}
	resp := s.postJSON(t, newLocalClient(s.handler, false), "/api/track", map[string]string{"path": "/posts/hello"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("track returned %d", resp.StatusCode)
	}

	// 缺少路径的事件被拒绝
	resp = s.postJSON(t, s.visitor, "/api/track", map[string]string{"referer": "https://example.com"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty path should be rejected, got %d", resp.StatusCode)
	}

	s.login(t)

	flushPayload := decodeJSON(t, s.request(t, s.admin, http.MethodPost, "/api/cron/flush", nil))
	if flushPayload["flushedCount"].(float64) != 3 {
		t.Fatalf("expected 3 flushed events, got %v", flushPayload)
	}

	overview := decodeJSON(t, s.request(t, s.admin, http.MethodGet, "/api/stats/overview", nil))
	if overview["totalViews"].(float64) != 3 {
		t.Fatalf("expected 3 total views, got %v", overview)
	}
	if overview["uniqueVisitors"].(float64) != 2 {
		t.Fatalf("expected 2 unique visitors, got %v", overview)
	}
	if overview["pendingEvents"].(float64) != 0 {
		t.Fatalf("buffer should be drained, got %v", overview)
	}

	topPaths := overview["topPaths"].([]interface{})
	if len(topPaths) == 0 {
		t.Fatal("expected top paths")
	}
	first := topPaths[0].(map[string]interface{})
	if first["key"] != "/posts/hello" || first["count"].(float64) != 2 {
		t.Fatalf("unexpected top path: %v", first)
	}

	resp = s.request(t, s.admin, http.MethodGet, "/api/stats/overview?days=0", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid days should be rejected, got %d", resp.StatusCode)
	}
}

func (s *e2eSuite) testReportDelivery(t *testing.T) {
	s.login(t)

	resp := s.request(t, s.admin, http.MethodPut, "/api/settings", map[string]interface{}{
		"settings": map[string]string{
			db.SettingKeyReportMode:    "NOTICE_EMAIL",
			db.SettingKeyReportUIDs:    fmt.Sprintf("%d", s.user.ID),
			db.SettingKeyReportWeekly:  "false",
			db.SettingKeyReportMonthly: "false",
		},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update settings returned %d", resp.StatusCode)
	}

	report := decodeJSON(t, s.request(t, s.admin, http.MethodPost, "/api/cron/report", nil))
	if report["recipientCount"].(float64) != 1 {
		t.Fatalf("expected 1 recipient, got %v", report)
	}
	if report["noticesSent"].(float64) != 1 || report["emailsSent"].(float64) != 1 {
		t.Fatalf("expected dual-channel delivery, got %v", report)
	}
	if len(s.emails.sent) != 1 || s.emails.sent[0].To != s.user.Email {
		t.Fatalf("unexpected email delivery: %+v", s.emails.sent)
	}

	notices := decodeJSON(t, s.request(t, s.admin, http.MethodGet, "/api/notices", nil))
	items := notices["notices"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 unread notice, got %v", notices)
	}
	noticeID := items[0].(map[string]interface{})["id"].(float64)

	resp = s.request(t, s.admin, http.MethodPost, fmt.Sprintf("/api/notices/%.0f/read", noticeID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read returned %d", resp.StatusCode)
	}

	notices = decodeJSON(t, s.request(t, s.admin, http.MethodGet, "/api/notices", nil))
	if len(notices["notices"].([]interface{})) != 0 {
		t.Fatalf("notice should be gone after read, got %v", notices)
	}
}

func (s *e2eSuite) testSettingsManagement(t *testing.T) {
	s.login(t)

	settings := decodeJSON(t, s.request(t, s.admin, http.MethodGet, "/api/settings", nil))
	values := settings["settings"].(map[string]interface{})
	if values[db.SettingKeyReportMode] != "NOTICE_EMAIL" {
		t.Fatalf("expected persisted mode, got %v", values)
	}

	// 白名单之外的键拒绝写入
	resp := s.request(t, s.admin, http.MethodPut, "/api/settings", map[string]interface{}{
		"settings": map[string]string{"secret_api_key": "x"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-whitelisted key should be rejected, got %d", resp.StatusCode)
	}

	resp = s.request(t, s.admin, http.MethodPost, "/api/auth/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout returned %d", resp.StatusCode)
	}
	resp = s.request(t, s.admin, http.MethodGet, "/api/settings", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("session should be cleared after logout, got %d", resp.StatusCode)
	}
}
