package config

import (
	"sync/atomic"
	"time"
)

// Flags holds the settings that may change while runs are in flight. Readers
// see the latest applied config without locking.
type Flags struct {
	remote        atomic.Bool
	settle        atomic.Int64
	overlaySettle atomic.Int64
}

// NewFlags seeds flags from cfg.
func NewFlags(cfg *Config) *Flags {
	f := &Flags{}
	f.Apply(cfg)
	return f
}

// Apply copies the hot-reloadable fields of cfg.
func (f *Flags) Apply(cfg *Config) {
	f.remote.Store(cfg.Remote.Experimental)
	f.settle.Store(int64(cfg.Dispatch.Settle()))
	f.overlaySettle.Store(int64(cfg.Dispatch.OverlaySettle()))
}

// RemoteDisplayEnabled reports the experimental virtual display flag.
func (f *Flags) RemoteDisplayEnabled() bool { return f.remote.Load() }

func (f *Flags) SetRemoteDisplayEnabled(on bool) { f.remote.Store(on) }

func (f *Flags) Settle() time.Duration { return time.Duration(f.settle.Load()) }

func (f *Flags) OverlaySettle() time.Duration { return time.Duration(f.overlaySettle.Load()) }
