package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avkit/streamcore/internal/registry"
)

// Manager tracks a set of named outputs and their lifecycle state.
// It is the glue between configured destinations and live Output
// instances, and fans lifecycle events out to registered listeners.
type Manager struct {
	mu       sync.RWMutex
	outputs  *registry.Registry[*managed]
	byName   map[string]registry.Handle
	eventFns []func(name string, event Event)
}

// managed pairs an Output with its recorded status.
type managed struct {
	name string
	out  *Output

	running   bool
	gaveUp    bool
	startTime time.Time
	lastCode  StopCode
}

// Status is a point-in-time view of one managed output.
type Status struct {
	Name          string  `json:"name"`
	Running       bool    `json:"running"`
	Reconnecting  bool    `json:"reconnecting"`
	Retries       int     `json:"retries"`
	MaxRetries    int     `json:"max_retries"`
	GaveUp        bool    `json:"gave_up"`
	LastStopCode  string  `json:"last_stop_code,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	TotalFrames   int     `json:"total_frames"`
	DroppedFrames int     `json:"dropped_frames"`
}

// NewManager creates an empty output manager.
func NewManager() *Manager {
	return &Manager{
		outputs: registry.New[*managed](),
		byName:  make(map[string]registry.Handle),
	}
}

// OnEvent registers a listener for lifecycle events of all managed outputs.
// Listeners must be registered before outputs are added.
func (m *Manager) OnEvent(fn func(name string, event Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventFns = append(m.eventFns, fn)
}

// Add places an output under management, keyed by its name.
func (m *Manager) Add(out *Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := out.Name()
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("output already managed: %s", name)
	}

	mo := &managed{name: name, out: out}
	handle := m.outputs.Register(mo)
	m.byName[name] = handle

	out.OnEvent(func(event Event) {
		m.recordEvent(mo, event)
	})
	return nil
}

// recordEvent updates status bookkeeping and fans the event out.
func (m *Manager) recordEvent(mo *managed, event Event) {
	m.mu.Lock()
	switch event.Kind {
	case EventStart:
		mo.running = true
		mo.gaveUp = false
		mo.startTime = time.Now()
	case EventReconnectSuccess:
		mo.running = true
		mo.startTime = time.Now()
	case EventStop:
		mo.running = false
		mo.lastCode = event.Code
		if event.Code == StopDisconnected {
			mo.gaveUp = true
		}
	case EventReconnect:
		mo.running = false
	}
	listeners := make([]func(string, Event), len(m.eventFns))
	copy(listeners, m.eventFns)
	name := mo.name
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(name, event)
	}
}

// Start starts the named output.
func (m *Manager) Start(name string) error {
	mo, err := m.lookup(name)
	if err != nil {
		return err
	}

	slog.Info("starting output", "output", name)
	return mo.out.Start()
}

// Stop stops the named output.
func (m *Manager) Stop(name string) error {
	mo, err := m.lookup(name)
	if err != nil {
		return err
	}

	slog.Info("stopping output", "output", name)
	mo.out.Stop()
	return nil
}

// StopAll stops every managed output.
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		if err := m.Stop(name); err != nil {
			slog.Error("failed to stop output", "output", name, "error", err)
		}
	}
}

// Remove stops the named output and drops it from management.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	handle, exists := m.byName[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("output not managed: %s", name)
	}
	mo, _ := m.outputs.Resolve(handle)
	m.outputs.Deregister(handle)
	delete(m.byName, name)
	m.mu.Unlock()

	if mo != nil {
		mo.out.Stop()
	}
	return nil
}

// Names returns the names of all managed outputs.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	return names
}

// Output returns the named Output, or nil if not managed.
func (m *Manager) Output(name string) *Output {
	mo, err := m.lookup(name)
	if err != nil {
		return nil
	}
	return mo.out
}

// lookup resolves a name to its managed entry.
func (m *Manager) lookup(name string) (*managed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handle, exists := m.byName[name]
	if !exists {
		return nil, fmt.Errorf("output not managed: %s", name)
	}
	mo, ok := m.outputs.Resolve(handle)
	if !ok {
		return nil, fmt.Errorf("output not managed: %s", name)
	}
	return mo, nil
}

// Statuses returns the status of every managed output keyed by name.
func (m *Manager) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]Status, len(m.byName))
	for name, handle := range m.byName {
		mo, ok := m.outputs.Resolve(handle)
		if !ok {
			continue
		}
		statuses[name] = m.statusLocked(mo)
	}
	return statuses
}

// statusLocked builds a Status view. Caller must hold m.mu.
func (m *Manager) statusLocked(mo *managed) Status {
	s := Status{
		Name:          mo.name,
		Running:       mo.running,
		Reconnecting:  mo.out.Reconnecting(),
		Retries:       mo.out.retryAttempt(),
		MaxRetries:    mo.out.maxRetries(),
		GaveUp:        mo.gaveUp,
		TotalFrames:   mo.out.TotalFrames(),
		DroppedFrames: mo.out.FramesDropped(),
	}
	if mo.lastCode != StopSuccess || !mo.running {
		s.LastStopCode = mo.lastCode.String()
	}
	if mo.running {
		s.UptimeSeconds = time.Since(mo.startTime).Seconds()
	}
	return s
}
