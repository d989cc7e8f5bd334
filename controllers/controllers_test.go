package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/database"
	"github.com/princinho/mocreatives/metrics"
	"github.com/princinho/mocreatives/ratelimit"
	"github.com/princinho/mocreatives/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	rootEmail    = "root@mocreatives.test"
	rootPassword = "RootPass123"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mailbox struct {
	mu        sync.Mutex
	passwords map[string]string
	resets    map[string]string
}

func (m *mailbox) SendCredentials(_ context.Context, email, password, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[email] = password
	return nil
}

func (m *mailbox) SendResetLink(_ context.Context, email, _, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[email] = resetURL
	return nil
}

func (m *mailbox) resetToken(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.resets[email]
	require.True(t, ok, "no reset link sent to %s", email)
	return link[strings.LastIndex(link, "/")+1:]
}

type memPhotos struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (p *memPhotos) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = b
	return "https://cdn.example.com/" + key, nil
}

func (p *memPhotos) Delete(_ context.Context, publicURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, strings.TrimPrefix(publicURL, "https://cdn.example.com/"))
	return nil
}

type harness struct {
	router  *gin.Engine
	store   *database.MemoryUserStore
	mail    *mailbox
	photos  *memPhotos
	clock   *stepClock
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()

	h := &harness{
		store:   database.NewMemoryUserStore(),
		mail:    &mailbox{passwords: map[string]string{}, resets: map[string]string{}},
		photos:  &memPhotos{objects: map[string][]byte{}},
		clock:   &stepClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	signer, err := auth.NewJWTSigner("controller-secret", 15*time.Minute)
	require.NoError(t, err)
	svc, err := auth.NewService(h.store, &auth.BcryptHasher{Cost: bcrypt.MinCost}, signer, h.mail, auth.Options{
		ClientURL: "https://cms.example.com",
		Clock:     h.clock,
		Photos:    h.photos,
		Logger:    log,
	})
	require.NoError(t, err)
	created, err := svc.SeedSuperAdmin(context.Background(), "Root", rootEmail, rootPassword)
	require.NoError(t, err)
	require.True(t, created)

	d := Deps{
		Auth:          svc,
		Authenticator: h.metrics.Authenticator(svc),
		Recorder:      h.metrics,
		Photos:        storage.NewFileValidator(1, []string{".png", ".jpg"}, []string{"image/png", "image/jpeg"}),
	}
	for _, m := range mutate {
		m(&d)
	}
	h.router = gin.New()
	Mount(h.router, d)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) login(t *testing.T, email, password string) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

// onboard registers an admin and walks it through the forced reset, returning
// its id and a live session token.
func (h *harness) onboard(t *testing.T, rootToken, name, email, password string) (string, string) {
	t.Helper()
	w := h.do(t, http.MethodPost, "/auth/register", rootToken, gin.H{"name": name, "email": email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["user"].(map[string]any)["id"].(string)

	w = h.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": email})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodPatch, "/auth/reset-password/"+h.mail.resetToken(t, email), "", gin.H{"password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id, decode(t, w)["token"].(string)
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", decode(t, w)["message"])
}

func TestLoginResponses(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "ROOT@mocreatives.test ", "password": rootPassword})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["expiresAt"])
	user := body["user"].(map[string]any)
	assert.Equal(t, rootEmail, user["email"])
	assert.Equal(t, "superadmin", user["role"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotContains(t, w.Body.String(), "$2a$")

	w = h.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": rootEmail, "password": "wrong-password"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_credentials", decode(t, w)["code"])

	w = h.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "nobody@mocreatives.test", "password": "whatever1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_credentials", decode(t, w)["code"])

	w = h.do(t, http.MethodPost, "/auth/login", "", gin.H{"password": "whatever1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	assert.Equal(t, "invalid_input", body["code"])
	assert.Equal(t, "email", body["field"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuthEventsTotal.WithLabelValues(metrics.OpLogin, "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.AuthEventsTotal.WithLabelValues(metrics.OpLogin, "invalid_credentials")))
}

func TestOnboardingFlow(t *testing.T) {
	h := newHarness(t)
	root := h.login(t, rootEmail, rootPassword)

	w := h.do(t, http.MethodPost, "/auth/register", root, gin.H{"name": "Ada Admin", "email": "ada@mocreatives.test"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["credentialsDelivered"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "admin", user["role"])
	assert.Equal(t, true, user["passwordResetRequired"])

	generated := h.mail.passwords["ada@mocreatives.test"]
	require.NotEmpty(t, generated)
	assert.NotContains(t, w.Body.String(), generated)

	w = h.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "ada@mocreatives.test", "password": generated})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "reset_required", decode(t, w)["code"])

	w = h.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": "ada@mocreatives.test"})
	require.Equal(t, http.StatusOK, w.Code)
	token := h.mail.resetToken(t, "ada@mocreatives.test")

	w = h.do(t, http.MethodPatch, "/auth/reset-password/"+token, "", gin.H{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "password", decode(t, w)["field"])

	w = h.do(t, http.MethodPatch, "/auth/reset-password/"+token, "", gin.H{"password": "AdaChosen1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	session := decode(t, w)["token"].(string)

	w = h.do(t, http.MethodGet, "/admin/me", session, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "ada@mocreatives.test", me["email"])
	assert.Equal(t, false, me["passwordResetRequired"])

	w = h.do(t, http.MethodPatch, "/auth/reset-password/"+token, "", gin.H{"password": "AdaAgain12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_token", decode(t, w)["code"])

	h.login(t, "ada@mocreatives.test", "AdaChosen1")
}

func TestRegisterGuards(t *testing.T) {
	h := newHarness(t)
	root := h.login(t, rootEmail, rootPassword)
	_, admin := h.onboard(t, root, "Ada Admin", "ada@mocreatives.test", "AdaChosen1")

	w := h.do(t, http.MethodPost, "/auth/register", "", gin.H{"name": "Eve", "email": "eve@mocreatives.test"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodPost, "/auth/register", admin, gin.H{"name": "Eve", "email": "eve@mocreatives.test"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode(t, w)["code"])

	w = h.do(t, http.MethodPost, "/auth/register", root, gin.H{"name": "Ada Again", "email": "ADA@mocreatives.test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["code"])

	w = h.do(t, http.MethodPost, "/auth/register", root, gin.H{"name": "Second Root", "email": "root2@mocreatives.test", "role": "superadmin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "only one superadmin can exist", decode(t, w)["error"])

	w = h.do(t, http.MethodPost, "/auth/register", root, gin.H{"name": "Bob Admin", "email": "bob@mocreatives.test", "role": " ADMIN "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "admin", decode(t, w)["user"].(map[string]any)["role"])

	w = h.do(t, http.MethodPost, "/auth/register", root, gin.H{"name": "Second Root", "email": "root3@mocreatives.test", "role": "SuperAdmin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["code"])

	w = h.do(t, http.MethodPost, "/auth/register", root, gin.H{"name": "Eve", "email": "eve@mocreatives.test", "role": "editor"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "role", decode(t, w)["field"])
}

func TestForgotPasswordIsUniform(t *testing.T) {
	h := newHarness(t)

	known := h.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": rootEmail})
	unknown := h.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": "ghost@mocreatives.test"})

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Len(t, h.mail.resets, 1)

	w := h.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email", decode(t, w)["field"])
}

func TestUpdatePasswordRevokesOlderSessions(t *testing.T) {
	h := newHarness(t)
	old := h.login(t, rootEmail, rootPassword)
	h.clock.Advance(2 * time.Second)

	w := h.do(t, http.MethodPatch, "/auth/update-password", old, gin.H{"currentPassword": "nope-nope", "newPassword": "NewRootPass1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_credentials", decode(t, w)["code"])

	w = h.do(t, http.MethodPatch, "/auth/update-password", old, gin.H{"currentPassword": rootPassword, "newPassword": "NewRootPass1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fresh := decode(t, w)["token"].(string)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/admin/me", old, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/admin/me", fresh, nil).Code)

	w = h.do(t, http.MethodPatch, "/auth/update-password", "", gin.H{"currentPassword": "x", "newPassword": "y"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuthEventsTotal.WithLabelValues(metrics.OpAuthenticate, "unauthenticated")))
}

func TestUpdateProfileJSON(t *testing.T) {
	h := newHarness(t)
	root := h.login(t, rootEmail, rootPassword)
	adaID, ada := h.onboard(t, root, "Ada Admin", "ada@mocreatives.test", "AdaChosen1")
	rootID := decode(t, h.do(t, http.MethodGet, "/admin/me", root, nil))["user"].(map[string]any)["id"].(string)

	w := h.do(t, http.MethodPatch, "/admin/"+adaID, ada, gin.H{
		"name":         "Ada Lovelace",
		"linkedinLink": "https://www.linkedin.com/in/ada-lovelace",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "Ada Lovelace", user["name"])
	assert.Equal(t, "https://www.linkedin.com/in/ada-lovelace", user["linkedinLink"])

	w = h.do(t, http.MethodPatch, "/admin/"+adaID, ada, gin.H{"email": "ada2@mocreatives.test"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPatch, "/admin/"+rootID, ada, gin.H{"name": "Taken Over"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPatch, "/admin/"+adaID, ada, gin.H{"linkedinLink": "https://example.com/ada"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "linkedinLink", decode(t, w)["field"])

	w = h.do(t, http.MethodPatch, "/admin/"+adaID, root, gin.H{"email": "Ada.L@mocreatives.test"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada.l@mocreatives.test", decode(t, w)["user"].(map[string]any)["email"])

	w = h.do(t, http.MethodPatch, "/admin/"+rootID, root, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPatch, "/admin/not-an-id", root, gin.H{"name": "Nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPatch, "/admin/6650f0c2a1b2c3d4e5f60718", root, gin.H{"name": "Nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartProfile(t *testing.T, data string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != "" {
		require.NoError(t, mw.WriteField("data", data))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("photo", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpdateProfileMultipart(t *testing.T) {
	h := newHarness(t)
	root := h.login(t, rootEmail, rootPassword)
	adaID, ada := h.onboard(t, root, "Ada Admin", "ada@mocreatives.test", "AdaChosen1")

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	send := func(body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/admin/"+adaID, body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+ada)
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		return w
	}

	w := send(multipartProfile(t, `{"name":"Ada Pictured"}`, "me.png", png))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "Ada Pictured", user["name"])
	first := user["profilePhoto"].(string)
	assert.True(t, strings.HasPrefix(first, "https://cdn.example.com/profiles/"+adaID+"/"), first)
	assert.Len(t, h.photos.objects, 1)

	w = send(multipartProfile(t, "", "again.png", png))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode(t, w)["user"].(map[string]any)["profilePhoto"].(string)
	assert.NotEqual(t, first, second)
	assert.Len(t, h.photos.objects, 1, "replaced photo is deleted")

	w = send(multipartProfile(t, "", "notes.png", []byte("plain text pretending to be an image")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "photo", decode(t, w)["field"])

	w = send(multipartProfile(t, "", "script.exe", png))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(multipartProfile(t, `{"name":`, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode(t, w)["code"])
}

func TestDeleteIdentity(t *testing.T) {
	h := newHarness(t)
	root := h.login(t, rootEmail, rootPassword)
	adaID, ada := h.onboard(t, root, "Ada Admin", "ada@mocreatives.test", "AdaChosen1")
	rootID := decode(t, h.do(t, http.MethodGet, "/admin/me", root, nil))["user"].(map[string]any)["id"].(string)

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodDelete, "/admin/"+rootID, ada, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodDelete, "/admin/"+rootID, root, nil).Code)

	w := h.do(t, http.MethodDelete, "/admin/"+adaID, root, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/admin/me", ada, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/admin/"+adaID, root, nil).Code)
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var limited []string
	h := newHarness(t, func(d *Deps) {
		d.LoginLimit = ratelimit.New(rdb, 2, time.Minute).ClearingMiddleware("login", logrus.New(), func(scope string) {
			limited = append(limited, scope)
		})
	})

	wrong := gin.H{"email": rootEmail, "password": "wrong-password"}
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/auth/login", "", wrong).Code)
	h.login(t, rootEmail, rootPassword)

	// the successful login cleared the counter
	for i := 0; i < 2; i++ {
		w := h.do(t, http.MethodPost, "/auth/login", "", wrong)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	w := h.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": rootEmail, "password": rootPassword})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decode(t, w)["code"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, []string{"login"}, limited)

	// other routes are not limited
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/auth/forgot-password", "", gin.H{"email": rootEmail}).Code)
}
