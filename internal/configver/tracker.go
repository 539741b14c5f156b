// Package configver tracks the serial of the relay-facing site configuration
// and packs the per-relay config folders that a serial refers to.
package configver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"relayd/internal/relay"

	"github.com/google/uuid"
)

// Tracker holds the current config serial of the site.
// The serial is persisted under the site root so a restart keeps it.
type Tracker struct {
	mu      sync.RWMutex
	current relay.Serial

	serialPath string
	configRoot string
	newSerial  func() relay.Serial
}

// NewTracker loads the current serial from <varDir>/serial.
// Per-relay config folders live under <varDir>/config/<serial>/<relay-id>.
// A missing serial file means the site never activated a relay configuration.
func NewTracker(varDir string) (*Tracker, error) {
	t := &Tracker{
		current:    relay.DefaultSerial,
		serialPath: filepath.Join(varDir, "serial"),
		configRoot: filepath.Join(varDir, "config"),
		newSerial:  func() relay.Serial { return relay.Serial(uuid.New().String()) },
	}

	data, err := os.ReadFile(t.serialPath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read config serial: %w", err)
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		t.current = relay.Serial(s)
	}
	return t, nil
}

// Current returns the current serial
func (t *Tracker) Current() relay.Serial {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// IsCurrent reports whether serial equals the current serial
func (t *Tracker) IsCurrent(serial relay.Serial) bool {
	return t.Current() == serial
}

// Advance makes next the current serial and persists it.
// An empty next generates a fresh serial.
func (t *Tracker) Advance(next relay.Serial) (relay.Serial, error) {
	if next == "" {
		next = t.newSerial()
	}
	if !safeComponent(string(next)) {
		return "", fmt.Errorf("invalid config serial %q", next)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := writeAtomic(t.serialPath, []byte(string(next)+"\n")); err != nil {
		return "", fmt.Errorf("failed to persist config serial: %w", err)
	}
	t.current = next
	return next, nil
}

// ConfigDir returns the config folder of a relay for a serial
func (t *Tracker) ConfigDir(serial relay.Serial, relayID relay.RelayID) string {
	return filepath.Join(t.configRoot, string(serial), string(relayID))
}

// HasRelayConfig reports whether the relay has a config folder for serial.
// Any stat failure counts as absent.
func (t *Tracker) HasRelayConfig(serial relay.Serial, relayID relay.RelayID) bool {
	if !safeComponent(string(serial)) || !safeComponent(string(relayID)) {
		return false
	}
	info, err := os.Stat(t.ConfigDir(serial, relayID))
	return err == nil && info.IsDir()
}

// ValidSerial reports whether serial can name a config generation
func ValidSerial(serial relay.Serial) bool {
	return safeComponent(string(serial))
}

// ValidRelayID reports whether id can name a relay's config folder and
// appear as a single URL path segment
func ValidRelayID(id relay.RelayID) bool {
	return safeComponent(string(id))
}

// safeComponent reports whether name can be used as a single path element
func safeComponent(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) &&
		strings.IndexFunc(name, unicode.IsControl) < 0
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".serial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
