// Package device defines the execution surfaces actions run on and the pure
// rule that picks one for each dispatch.
package device

import (
	"context"
	"encoding/base64"
	"time"
)

// Tier is the permission level available on the device. Higher is stronger.
type Tier int

const (
	TierBasic Tier = iota
	TierADB
	TierBridge // needs an authorization bridge app for launches
	TierRoot
)

func (t Tier) String() string {
	switch t {
	case TierRoot:
		return "root"
	case TierBridge:
		return "bridge"
	case TierADB:
		return "adb"
	default:
		return "basic"
	}
}

// Elevated reports whether t is one of the three upper tiers.
func (t Tier) Elevated() bool { return t >= TierADB }

// RequiresBridge reports whether launches at this tier go through the
// authorization bridge.
func (t Tier) RequiresBridge() bool { return t == TierBridge }

// Kind names a backend implementation.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Select picks the backend for one dispatch. The remote backend is chosen
// only when the tier is elevated, the feature flag is on, and the session
// already owns a remote controller.
func Select(tier Tier, remoteEnabled, hasRemote bool) Kind {
	if tier.Elevated() && remoteEnabled && hasRemote {
		return KindRemote
	}
	return KindLocal
}

// BackendContext is the selection outcome for a single dispatch. It is
// never cached across steps.
type BackendContext struct {
	Tier            Tier
	UsesRemote      bool
	RemoteDisplayID *int
}

// Kind returns the backend kind the context selects.
func (c BackendContext) Kind() Kind {
	if c.UsesRemote {
		return KindRemote
	}
	return KindLocal
}

// Screenshot is an encoded screen capture.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
}

// DataURL renders the capture as a prompt-embeddable reference.
func (s Screenshot) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(s.PNG)
}

// Backend is the capability set both execution surfaces provide.
// Coordinates are device pixels. Every method returns nil on success.
type Backend interface {
	Kind() Kind
	Tap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int) error
	DoubleTap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error
	Type(ctx context.Context, text string) error
	Key(ctx context.Context, code int) error
	Launch(ctx context.Context, pkg string) error
	Screenshot(ctx context.Context) (Screenshot, error)
}

// TierProber reports the current permission tier.
type TierProber interface {
	Tier(ctx context.Context) (Tier, error)
}

// AuthorizationBridge reports whether the bridge app is running and
// authorized.
type AuthorizationBridge interface {
	Ready(ctx context.Context) (bool, error)
}

// AppResolver maps a human app name to a package id.
type AppResolver interface {
	Resolve(ctx context.Context, name string) (string, bool)
	Rescan(ctx context.Context) error
}

// Overlay is the on-screen feedback indicator that must not cover real
// input events.
type Overlay interface {
	Hide(ctx context.Context, sessionID string)
	Show(ctx context.Context, sessionID string)
}

// FeatureFlags exposes runtime switches.
type FeatureFlags interface {
	RemoteDisplayEnabled() bool
}

// RemoteDisplay is the per-session controller of the virtual display
// backend.
type RemoteDisplay interface {
	EnsureDisplay(ctx context.Context, width, height, dpi, bitrate int) error
	LaunchApp(ctx context.Context, pkg string) error
	Tap(ctx context.Context, x, y int) error
	Press(ctx context.Context, x, y int, hold time.Duration) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error
	Key(ctx context.Context, code int) error
	KeyWithMeta(ctx context.Context, code, meta int) error
	SetClipboard(ctx context.Context, text string) error
	Snapshot(ctx context.Context) (Screenshot, error)
	DisplayID() (int, bool)
	VideoSize() (int, int)
	Annotate(pkg string)
	LaunchedPackage() string
}

// RemoteDisplays looks up the controller owned by a session.
type RemoteDisplays interface {
	Lookup(sessionID string) (RemoteDisplay, bool)
}

// Android key codes.
const (
	KeyHome    = 3
	KeyBack    = 4
	KeyClear   = 28
	KeyA       = 29
	KeyDel     = 67
	KeyPaste   = 279
	MetaCtrlOn = 0x1000
)

// NopOverlay ignores hide and show requests.
type NopOverlay struct{}

func (NopOverlay) Hide(context.Context, string) {}
func (NopOverlay) Show(context.Context, string) {}
