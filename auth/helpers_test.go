package auth

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/princinho/mocreatives/database"
	"github.com/princinho/mocreatives/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testClientURL     = "https://cms.example.com"
	testSecret        = "test-secret"
	rootEmail         = "root@mocreatives.test"
	rootPassword      = "RootPass123"
	testTokenLifetime = 15 * time.Minute
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentCredentials struct {
	Email, Password, Name string
}

type sentReset struct {
	Email, Name, URL string
}

type recordingNotifier struct {
	mu              sync.Mutex
	credentials     []sentCredentials
	resets          []sentReset
	failCredentials error
	failReset       error
}

func (n *recordingNotifier) SendCredentials(_ context.Context, email, password, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failCredentials != nil {
		return n.failCredentials
	}
	n.credentials = append(n.credentials, sentCredentials{email, password, name})
	return nil
}

func (n *recordingNotifier) SendResetLink(_ context.Context, email, name, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failReset != nil {
		return n.failReset
	}
	n.resets = append(n.resets, sentReset{email, name, resetURL})
	return nil
}

func (n *recordingNotifier) lastResetToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets, "no reset link sent")
	url := n.resets[len(n.resets)-1].URL
	prefix := testClientURL + "/reset-password/"
	require.True(t, strings.HasPrefix(url, prefix), url)
	return strings.TrimPrefix(url, prefix)
}

type fakePhotos struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
	failNext error
}

func (p *fakePhotos) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return "", err
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	url := "https://cdn.example.com/" + key
	p.uploaded = append(p.uploaded, url)
	return url, nil
}

func (p *fakePhotos) Delete(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, url)
	return nil
}

type fixture struct {
	svc      *Service
	store    *database.MemoryUserStore
	notifier *recordingNotifier
	clock    *fakeClock
	photos   *fakePhotos
	root     *models.User
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	store := database.NewMemoryUserStore()
	notifier := &recordingNotifier{}
	clock := newFakeClock()
	photos := &fakePhotos{}
	signer, err := NewJWTSigner(testSecret, testTokenLifetime)
	require.NoError(t, err)

	opts := Options{
		ClientURL: testClientURL,
		Clock:     clock,
		Photos:    photos,
		Logger:    quietLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	svc, err := NewService(store, &BcryptHasher{Cost: bcrypt.MinCost}, signer, notifier, opts)
	require.NoError(t, err)

	created, err := svc.SeedSuperAdmin(context.Background(), "Root User", rootEmail, rootPassword)
	require.NoError(t, err)
	require.True(t, created)
	root, err := store.FindByEmail(context.Background(), rootEmail)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, notifier: notifier, clock: clock, photos: photos, root: root}
}

// registerAdmin creates an admin and completes its first reset so it can log in.
func (f *fixture) registerAdmin(t *testing.T, email, password string) *models.User {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.Register(ctx, f.root, RegisterInput{Name: "Ada Admin", Email: email, Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, email))
	_, err = f.svc.ConsumeReset(ctx, f.notifier.lastResetToken(t), password)
	require.NoError(t, err)
	user, err := f.store.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	return user
}
