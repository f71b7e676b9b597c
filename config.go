package ipfrag

import "time"

const (
	// DefaultTimeout is how long a stream may go without a new fragment
	// before its partial data is discarded.
	DefaultTimeout = 2000000 * time.Microsecond
	// DefaultMaxStreams is the stream count above which stale streams are swept.
	DefaultMaxStreams = 100
)

// Config holds reassembler configuration data
type Config struct {
	Name       string
	Timeout    time.Duration
	MaxStreams int

	// Builder is called with the stitched bytes of every completed datagram
	Builder PayloadBuilder
}

// NewDefaultConfig creates a typical reassembler configuration
func NewDefaultConfig() *Config {
	return &Config{
		Name:       "reassembler",
		Timeout:    DefaultTimeout,
		MaxStreams: DefaultMaxStreams,
		Builder:    DecodingBuilder{},
	}
}

func (c *Config) withDefaults() *Config {
	defaults := NewDefaultConfig()
	if c == nil {
		return defaults
	}
	out := *c
	if out.Name == "" {
		out.Name = defaults.Name
	}
	if out.Timeout <= 0 {
		out.Timeout = defaults.Timeout
	}
	if out.MaxStreams <= 0 {
		out.MaxStreams = defaults.MaxStreams
	}
	if out.Builder == nil {
		out.Builder = defaults.Builder
	}
	return &out
}
