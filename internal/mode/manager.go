package mode

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Listener receives mode transitions. Listeners run synchronously in
// transition order and must not call SetPreference or SetConnectivity.
type Listener func(domain.ModeChanged)

// SubscriptionID identifies a listener for Unsubscribe.
type SubscriptionID uint64

// Config holds the manager's starting state.
type Config struct {
	Preference domain.Preference
	// Threshold is how long connectivity must stay lost before an auto
	// preference switches to offline. Zero switches immediately.
	Threshold time.Duration
	// Connected is the connectivity assumed until the first signal.
	Connected bool
}

// Manager tracks connectivity and operator preference and derives the
// device mode from them.
type Manager struct {
	// notifyMu orders whole transitions so listeners see them in sequence.
	notifyMu sync.Mutex

	mu        sync.Mutex
	mode      domain.Mode
	pref      domain.Preference
	connected bool
	threshold time.Duration
	timer     *time.Timer
	gen       uint64
	listeners map[SubscriptionID]Listener
	nextID    SubscriptionID
	closed    bool

	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager in the mode implied by cfg.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.Preference == "" {
		cfg.Preference = domain.PreferenceAuto
	}
	m := &Manager{
		pref:      cfg.Preference,
		connected: cfg.Connected,
		threshold: cfg.Threshold,
		listeners: make(map[SubscriptionID]Listener),
		logger:    logger,
		now:       time.Now,
	}
	switch {
	case cfg.Preference == domain.PreferenceOnline:
		m.mode = domain.ModeOnline
	case cfg.Preference == domain.PreferenceOffline:
		m.mode = domain.ModeOffline
	case cfg.Connected:
		m.mode = domain.ModeOnline
	default:
		m.mode = domain.ModeOffline
	}
	recordMode(m.mode)
	return m
}

// CurrentMode returns the current mode.
func (m *Manager) CurrentMode() domain.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// IsOnline reports whether the current mode is online.
func (m *Manager) IsOnline() bool { return m.CurrentMode() == domain.ModeOnline }

// IsOffline reports whether the current mode is offline.
func (m *Manager) IsOffline() bool { return m.CurrentMode() == domain.ModeOffline }

// Preference returns the operator preference.
func (m *Manager) Preference() domain.Preference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pref
}

// Connected returns the last connectivity signal.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetPreference applies p. A forced preference switches immediately and
// cancels any pending offline switch.
func (m *Manager) SetPreference(p domain.Preference) error {
	if _, ok := domain.ParsePreference(string(p)); !ok {
		return apperrors.InvalidInput(fmt.Sprintf("unknown mode preference %q", p))
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.cancelTimerLocked()
	m.pref = p

	var ev *domain.ModeChanged
	switch p {
	case domain.PreferenceOnline:
		ev = m.transitionLocked(domain.ModeOnline, "preference online")
	case domain.PreferenceOffline:
		ev = m.transitionLocked(domain.ModeOffline, "preference offline")
	default:
		if m.connected {
			ev = m.transitionLocked(domain.ModeOnline, "preference auto")
		} else if m.mode == domain.ModeOnline {
			m.startTimerLocked()
		}
	}
	listeners := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("mode preference changed", slog.String("preference", string(p)))
	deliver(ev, listeners)
	return nil
}

// SetConnectivity feeds a raw reachability signal. Under the auto
// preference, a restore switches online at once and a loss switches
// offline after the threshold unless connectivity returns first. Repeated
// identical signals change nothing.
func (m *Manager) SetConnectivity(connected bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.connected = connected

	var ev *domain.ModeChanged
	if m.pref == domain.PreferenceAuto {
		switch {
		case connected:
			m.cancelTimerLocked()
			ev = m.transitionLocked(domain.ModeOnline, "connectivity restored")
		case m.mode == domain.ModeOffline, m.timer != nil:
		case m.threshold <= 0:
			ev = m.transitionLocked(domain.ModeOffline, "connectivity lost")
		default:
			m.startTimerLocked()
			m.logger.Debug("connectivity lost, offline switch pending", slog.Duration("threshold", m.threshold))
		}
	}
	listeners := m.snapshotLocked()
	m.mu.Unlock()

	deliver(ev, listeners)
}

// Subscribe registers fn for future transitions.
func (m *Manager) Subscribe(fn Listener) SubscriptionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners[m.nextID] = fn
	return m.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (m *Manager) Unsubscribe(id SubscriptionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// Close stops the pending timer and drops all listeners.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.closed = true
	m.listeners = map[SubscriptionID]Listener{}
}

func (m *Manager) startTimerLocked() {
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.threshold, func() { m.fireOffline(gen) })
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

// fireOffline completes a debounced switch unless it was superseded.
func (m *Manager) fireOffline(gen uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	var ev *domain.ModeChanged
	if m.pref == domain.PreferenceAuto && !m.connected {
		ev = m.transitionLocked(domain.ModeOffline, "connectivity lost")
	}
	listeners := m.snapshotLocked()
	m.mu.Unlock()

	deliver(ev, listeners)
}

// transitionLocked switches to next and returns the event, or nil when the
// mode does not change.
func (m *Manager) transitionLocked(next domain.Mode, reason string) *domain.ModeChanged {
	if m.mode == next {
		return nil
	}
	ev := &domain.ModeChanged{Mode: next, Previous: m.mode, Reason: reason, At: m.now().UTC()}
	m.mode = next
	recordMode(next)
	transitionsTotal.WithLabelValues(string(next)).Inc()
	m.logger.Info("mode changed",
		slog.String("mode", string(next)),
		slog.String("previous", string(ev.Previous)),
		slog.String("reason", reason),
	)
	return ev
}

func (m *Manager) snapshotLocked() []Listener {
	out := make([]Listener, 0, len(m.listeners))
	for id := SubscriptionID(1); id <= m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func deliver(ev *domain.ModeChanged, listeners []Listener) {
	if ev == nil {
		return
	}
	for _, fn := range listeners {
		fn(*ev)
	}
}
