// Package connectivity tracks network reachability for the sync core. The
// monitor probes on an interval and publishes exactly one event per
// offline/online transition, however many probes observed the same state.
package connectivity

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tractorcare/fieldsync/internal/events"
)

type Logger interface {
	Printf(format string, args ...any)
}

// ProbeFunc reports whether the network currently looks reachable. It must
// honor the context deadline.
type ProbeFunc func(ctx context.Context) bool

// NewHTTPProbe probes reachability with a HEAD request. Any response counts
// as reachable; only transport failures count against connectivity.
func NewHTTPProbe(probeURL string, client *http.Client) ProbeFunc {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}

type Options struct {
	Probe        ProbeFunc
	Interval     time.Duration
	ProbeTimeout time.Duration
	// ForceOfflinePath is a marker file; while it exists the monitor reports
	// offline regardless of probe results. Field operators use it to pin a
	// device offline on metered satellite links.
	ForceOfflinePath string
	Bus              *events.Bus
	Logger           Logger
}

type Monitor struct {
	probe            ProbeFunc
	interval         time.Duration
	probeTimeout     time.Duration
	forceOfflinePath string
	bus              *events.Bus
	logger           Logger

	mu        sync.Mutex
	online    bool
	forced    bool
	probedUp  bool
	nextSubID int
	subs      map[int]func(online bool)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewMonitor(opts Options) (*Monitor, error) {
	if opts.Probe == nil {
		return nil, errors.New("probe is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Monitor{
		probe:            opts.Probe,
		interval:         interval,
		probeTimeout:     probeTimeout,
		forceOfflinePath: strings.TrimSpace(opts.ForceOfflinePath),
		bus:              opts.Bus,
		logger:           opts.Logger,
		subs:             map[int]func(online bool){},
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}, nil
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback. Callbacks run on their own
// goroutine, never inside the probe loop, so a subscriber may immediately
// trigger further work without re-entering monitor state.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	if m.forceOfflinePath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			m.abortStart()
			return err
		}
		if err := watcher.Add(filepath.Dir(m.forceOfflinePath)); err != nil {
			_ = watcher.Close()
			m.abortStart()
			return err
		}
		m.watcher = watcher
	}
	m.refreshForced()

	go m.run()
	return nil
}

// abortStart undoes the started flag when Start fails before the run loop is
// launched, so a later Close does not wait on a goroutine that never ran.
func (m *Monitor) abortStart() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
}

func (m *Monitor) Close() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Monitor) run() {
	defer close(m.done)
	m.probeOnce()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var watcherEvents chan fsnotify.Event
	var watcherErrors chan error
	if m.watcher != nil {
		watcherEvents = m.watcher.Events
		watcherErrors = m.watcher.Errors
	}

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probeOnce()
		case event, ok := <-watcherEvents:
			if !ok {
				watcherEvents = nil
				continue
			}
			if filepath.Clean(event.Name) == filepath.Clean(m.forceOfflinePath) {
				m.refreshForced()
				m.recomputeAndNotify()
			}
		case err, ok := <-watcherErrors:
			if !ok {
				watcherErrors = nil
				continue
			}
			m.logf("marker watcher error: %v", err)
		}
	}
}

func (m *Monitor) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()
	up := m.probe(ctx)
	m.mu.Lock()
	m.probedUp = up
	m.mu.Unlock()
	m.recomputeAndNotify()
}

func (m *Monitor) refreshForced() {
	forced := false
	if m.forceOfflinePath != "" {
		if _, err := os.Stat(m.forceOfflinePath); err == nil {
			forced = true
		}
	}
	m.mu.Lock()
	m.forced = forced
	m.mu.Unlock()
}

func (m *Monitor) recomputeAndNotify() {
	m.mu.Lock()
	effective := m.probedUp && !m.forced
	if effective == m.online {
		m.mu.Unlock()
		return
	}
	m.online = effective
	forced := m.forced
	callbacks := make([]func(online bool), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	if m.bus != nil {
		eventType := events.ConnectivityOffline
		if effective {
			eventType = events.ConnectivityOnline
		}
		m.bus.Publish(events.Event{Type: eventType})
	}
	m.logf("connectivity transition: online=%v (forced_offline=%v)", effective, forced)
	for _, fn := range callbacks {
		go fn(effective)
	}
}

func (m *Monitor) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
