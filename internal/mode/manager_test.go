package mode

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.ModeChanged
}

func (r *recorder) listen(ev domain.ModeChanged) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) modes() []domain.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Mode, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Mode)
	}
	return out
}

func newManager(t *testing.T, cfg Config) (*Manager, *recorder) {
	t.Helper()
	m := NewManager(cfg, slog.New(slog.DiscardHandler))
	t.Cleanup(m.Close)
	rec := &recorder{}
	m.Subscribe(rec.listen)
	return m, rec
}

// ============================================================================
// Initial state
// ============================================================================

func TestNewManager_InitialMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want domain.Mode
	}{
		{"auto connected", Config{Preference: domain.PreferenceAuto, Connected: true}, domain.ModeOnline},
		{"auto disconnected", Config{Preference: domain.PreferenceAuto}, domain.ModeOffline},
		{"default preference", Config{Connected: true}, domain.ModeOnline},
		{"forced offline", Config{Preference: domain.PreferenceOffline, Connected: true}, domain.ModeOffline},
		{"forced online", Config{Preference: domain.PreferenceOnline}, domain.ModeOnline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.cfg, slog.New(slog.DiscardHandler))
			defer m.Close()
			assert.Equal(t, tt.want, m.CurrentMode())
			assert.Equal(t, tt.want == domain.ModeOnline, m.IsOnline())
			assert.Equal(t, tt.want == domain.ModeOffline, m.IsOffline())
		})
	}
}

// ============================================================================
// Auto preference
// ============================================================================

func TestAuto_LossSwitchesAfterThreshold(t *testing.T) {
	m, rec := newManager(t, Config{Preference: domain.PreferenceAuto, Threshold: 40 * time.Millisecond, Connected: true})

	m.SetConnectivity(false)
	assert.True(t, m.IsOnline(), "must not flip before the threshold")

	require.Eventually(t, m.IsOffline, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Mode{domain.ModeOffline}, rec.modes())
	rec.mu.Lock()
	assert.Equal(t, domain.ModeOnline, rec.events[0].Previous)
	assert.Equal(t, "connectivity lost", rec.events[0].Reason)
	rec.mu.Unlock()
}

func TestAuto_RestoreBeforeThresholdCancelsSwitch(t *testing.T) {
	m, rec := newManager(t, Config{Preference: domain.PreferenceAuto, Threshold: 80 * time.Millisecond, Connected: true})

	m.SetConnectivity(false)
	time.Sleep(10 * time.Millisecond)
	m.SetConnectivity(true)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, m.IsOnline())
	assert.Empty(t, rec.modes())
}

func TestAuto_RestoreSwitchesOnlineImmediately(t *testing.T) {
	m, rec := newManager(t, Config{Preference: domain.PreferenceAuto, Threshold: time.Hour})
	require.True(t, m.IsOffline())

	m.SetConnectivity(true)
	assert.True(t, m.IsOnline())
	assert.Equal(t, []domain.Mode{domain.ModeOnline}, rec.modes())
}

func onlineGaugeValue(t *testing.T) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, onlineGauge.Write(&out))
	return out.GetGauge().GetValue()
}

func TestMetrics_TrackCurrentMode(t *testing.T) {
	m, _ := newManager(t, Config{Preference: domain.PreferenceAuto})
	assert.Equal(t, 0.0, onlineGaugeValue(t))

	enteredOnline := transitionsValue(t, domain.ModeOnline)
	m.SetConnectivity(true)
	assert.Equal(t, 1.0, onlineGaugeValue(t))
	assert.Equal(t, enteredOnline+1, transitionsValue(t, domain.ModeOnline))

	require.NoError(t, m.SetPreference(domain.PreferenceOffline))
	assert.Equal(t, 0.0, onlineGaugeValue(t))
}

func transitionsValue(t *testing.T, mode domain.Mode) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, transitionsTotal.WithLabelValues(string(mode)).Write(&out))
	return out.GetCounter().GetValue()
}

func TestAuto_RepeatedSignalsEmitOnce(t *testing.T) {
	m, rec := newManager(t, Config{Preference: domain.PreferenceAuto})

	for range 3 {
		m.SetConnectivity(true)
	}
	for range 3 {
		m.SetConnectivity(false)
	}
	m.SetConnectivity(true)

	assert.Equal(t, []domain.Mode{domain.ModeOnline, domain.ModeOffline, domain.ModeOnline}, rec.modes())
}

func TestAuto_RepeatedLossDoesNotRestartTimer(t *testing.T) {
	m, _ := newManager(t, Config{Preference: domain.PreferenceAuto, Threshold: 200 * time.Millisecond, Connected: true})

	m.SetConnectivity(false)
	time.Sleep(100 * time.Millisecond)
	m.SetConnectivity(false)

	// Offline 200ms after the first signal, not after the second.
	require.Eventually(t, m.IsOffline, 170*time.Millisecond, 5*time.Millisecond)
}

// ============================================================================
// Forced preference
// ============================================================================

func TestForcedPreference_OverridesAndCancelsTimer(t *testing.T) {
	m, rec := newManager(t, Config{Preference: domain.PreferenceAuto, Threshold: 40 * time.Millisecond, Connected: true})

	m.SetConnectivity(false)
	require.NoError(t, m.SetPreference(domain.PreferenceOnline))

	time.Sleep(100 * time.Millisecond)
	assert.True(t, m.IsOnline(), "pending offline switch must be cancelled")
	assert.Empty(t, rec.modes())

	require.NoError(t, m.SetPreference(domain.PreferenceOffline))
	assert.True(t, m.IsOffline())

	// Connectivity does not move a forced mode.
	m.SetConnectivity(true)
	assert.True(t, m.IsOffline())
	assert.Equal(t, domain.PreferenceOffline, m.Preference())

	require.NoError(t, m.SetPreference(domain.PreferenceAuto))
	assert.True(t, m.IsOnline(), "auto with connectivity goes online")
	assert.Equal(t, []domain.Mode{domain.ModeOffline, domain.ModeOnline}, rec.modes())
}

func TestSetPreference_Invalid(t *testing.T) {
	m, _ := newManager(t, Config{})
	err := m.SetPreference("sometimes")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUnsubscribe(t *testing.T) {
	m, rec := newManager(t, Config{Preference: domain.PreferenceAuto})
	other := &recorder{}
	id := m.Subscribe(other.listen)

	m.SetConnectivity(true)
	m.Unsubscribe(id)
	m.SetConnectivity(false)

	assert.Len(t, rec.modes(), 2)
	assert.Len(t, other.modes(), 1)
}

// ============================================================================
// Prober
// ============================================================================

type sink struct {
	mu   sync.Mutex
	last *bool
}

func (s *sink) SetConnectivity(up bool) {
	s.mu.Lock()
	s.last = &up
	s.mu.Unlock()
}

func (s *sink) value() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return false, false
	}
	return *s.last, true
}

func TestProber_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	p := NewProber(srv.URL, time.Second, &sink{}, slog.New(slog.DiscardHandler))
	assert.True(t, p.Probe(context.Background()))

	srv.Close()
	assert.False(t, p.Probe(context.Background()))
}

func TestProber_RunReportsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := &sink{}
	p := NewProber(srv.URL, time.Hour, s, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		up, ok := s.value()
		return ok && up
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
