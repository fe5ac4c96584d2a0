package audio

import "sync"

// Default output format used when a Context is created without explicit
// values.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
)

// Format is a point-in-time copy of the audio output format. Components
// read a Format snapshot at (re)configuration time rather than re-reading
// per buffer, so a mid-window format change never splits a window.
type Format struct {
	SampleRate int
	Channels   int
}

// Context holds the process-wide audio output format. It is constructed
// explicitly and passed to every component that needs it; reconfiguration
// has a single writer (whoever owns the audio output).
type Context struct {
	mu     sync.RWMutex
	format Format
}

// NewContext creates a Context with the given output format. Zero values
// fall back to the defaults.
func NewContext(sampleRate, channels int) *Context {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	return &Context{format: Format{SampleRate: sampleRate, Channels: channels}}
}

// Format returns a snapshot of the current output format.
func (c *Context) Format() Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// SetFormat replaces the output format. Meters pick the new values up the
// next time their intervals are configured.
func (c *Context) SetFormat(f Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.SampleRate > 0 {
		c.format.SampleRate = f.SampleRate
	}
	if f.Channels > 0 {
		c.format.Channels = f.Channels
	}
}
