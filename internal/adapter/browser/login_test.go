package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartpilot/internal/domain"
	"cartpilot/internal/infra/config"
)

type recordingRegistry struct {
	mu    sync.Mutex
	saved []domain.SessionRecord
}

func (r *recordingRegistry) List(context.Context) ([]domain.SessionRecord, error) { return nil, nil }
func (r *recordingRegistry) Get(context.Context, string) (*domain.SessionRecord, error) {
	return nil, domain.ErrNotFound
}
func (r *recordingRegistry) Save(_ context.Context, rec domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, rec)
	return nil
}
func (r *recordingRegistry) MarkUsed(context.Context, string) error   { return nil }
func (r *recordingRegistry) Invalidate(context.Context, string) error { return nil }
func (r *recordingRegistry) Delete(context.Context, string) error     { return nil }

func newTestFlow(t *testing.T, cfg config.BrowserConfig) (*LoginFlow, *recordingRegistry) {
	t.Helper()
	reg := &recordingRegistry{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	flow := NewLoginFlow(cfg, t.TempDir(), reg, nil, log)
	return flow, reg
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("alice"))
	assert.NoError(t, ValidateSessionID("alice-2"))

	for _, id := range []string{"", "a/b", `a\b`, ".", ".."} {
		err := ValidateSessionID(id)
		require.Error(t, err, "id %q should be rejected", id)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
}

func TestProfilePathIsPerSession(t *testing.T) {
	flow, _ := newTestFlow(t, config.BrowserConfig{})

	alice := flow.ProfilePath("alice")
	bob := flow.ProfilePath("bob")
	assert.NotEqual(t, alice, bob)
	assert.Equal(t, "alice", filepath.Base(alice))
	assert.Equal(t, flow.profilesDir, filepath.Dir(alice))
}

func TestLoginRejectsBadSessionID(t *testing.T) {
	flow, reg := newTestFlow(t, config.BrowserConfig{})

	_, err := flow.Login(context.Background(), "../escape", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, reg.saved, "no record should be saved for a rejected id")
}

func TestLoginTimeoutDefault(t *testing.T) {
	flow, _ := newTestFlow(t, config.BrowserConfig{})
	assert.Equal(t, 5*time.Minute, flow.cfg.LoginTimeout)
}

func TestWaitForLoginTimesOut(t *testing.T) {
	// No login path and no ready query means the poll can never succeed.
	flow, _ := newTestFlow(t, config.BrowserConfig{LoginTimeout: 100 * time.Millisecond})

	err := flow.waitForLogin(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.CodeLoginTimeout, domain.ErrorCodeOf(err))
}

func TestWaitForLoginStopsWhenBrowserCloses(t *testing.T) {
	flow, _ := newTestFlow(t, config.BrowserConfig{LoginTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := flow.waitForLogin(ctx, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
