package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/phonepilot/internal/observability"
	"github.com/harun/phonepilot/internal/tracing"
	"github.com/harun/phonepilot/pkg/action"
	"github.com/harun/phonepilot/pkg/device"
	"github.com/harun/phonepilot/pkg/session"
)

const tracerName = "phonepilot/dispatch"

// ErrAppNotFound is reported when an app name cannot be resolved even after
// a catalog rescan.
var ErrAppNotFound = errors.New("app not found")

// Flags are the runtime switches a dispatch reads. *config.Flags satisfies it.
type Flags interface {
	device.FeatureFlags
	Settle() time.Duration
	OverlaySettle() time.Duration
}

// RemoteSettings describe the virtual display created on a remote launch.
type RemoteSettings struct {
	Width           int
	Height          int
	DPI             int
	Bitrate         int
	FallbackPackage string
}

// Result is the outcome of one dispatched action.
type Result struct {
	Success      bool
	ShouldFinish bool
	Message      string
	Backend      device.Kind
}

// Config wires a Dispatcher to its collaborators. Prober, Bridge, Displays
// and Overlay may be nil.
type Config struct {
	Local        device.Backend
	Prober       device.TierProber
	Bridge       device.AuthorizationBridge
	Apps         device.AppResolver
	Displays     device.RemoteDisplays
	Overlay      device.Overlay
	Flags        Flags
	Remote       RemoteSettings
	MaxBackspace int
	Logger       zerolog.Logger
}

// Dispatcher runs actions on the backend selected for each call.
type Dispatcher struct {
	local        device.Backend
	prober       device.TierProber
	bridge       device.AuthorizationBridge
	apps         device.AppResolver
	displays     device.RemoteDisplays
	overlay      device.Overlay
	flags        Flags
	remote       RemoteSettings
	maxBackspace int
	logger       zerolog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		local:        cfg.Local,
		prober:       cfg.Prober,
		bridge:       cfg.Bridge,
		apps:         cfg.Apps,
		displays:     cfg.Displays,
		overlay:      cfg.Overlay,
		flags:        cfg.Flags,
		remote:       cfg.Remote,
		maxBackspace: cfg.MaxBackspace,
		logger:       cfg.Logger.With().Str("component", "dispatch").Logger(),
	}
	if d.overlay == nil {
		d.overlay = device.NopOverlay{}
	}
	if d.flags == nil {
		d.flags = staticFlags{}
	}
	if d.maxBackspace <= 0 {
		d.maxBackspace = 50
	}
	return d
}

// Context computes the backend context for sessionID right now. Probe
// failures degrade to the basic tier.
func (d *Dispatcher) Context(ctx context.Context, sessionID string) (device.BackendContext, device.RemoteDisplay) {
	tier := device.TierBasic
	if d.prober != nil {
		t, err := d.prober.Tier(ctx)
		if err != nil {
			d.logger.Debug().Err(err).Msg("Tier probe failed; assuming basic")
		} else {
			tier = t
		}
	}

	var rd device.RemoteDisplay
	has := false
	if d.displays != nil {
		rd, has = d.displays.Lookup(sessionID)
	}

	bc := device.BackendContext{Tier: tier}
	if device.Select(tier, d.flags.RemoteDisplayEnabled(), has) == device.KindRemote {
		bc.UsesRemote = true
		if id, ok := rd.DisplayID(); ok {
			bc.RemoteDisplayID = &id
		}
		return bc, rd
	}
	return bc, nil
}

// Dispatch executes do for sessionID on a width x height screen. The error
// is non-nil only when ctx was cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, do action.Do, width, height int) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, session.Err(ctx)
	}
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("action", do.Name).Logger()

	bc, rd := d.Context(ctx, sessionID)
	backend := d.backendFor(sessionID, bc, rd, do.Name, logger)

	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch."+do.Name,
		attribute.String("session.id", sessionID),
		attribute.String("backend", string(backend.Kind())),
		attribute.String("tier", bc.Tier.String()),
	)

	res, err := d.execute(ctx, sessionID, do, bc, backend, width, height, logger)
	res.Backend = backend.Kind()
	if err == nil && res.Success && !res.ShouldFinish && do.Name != action.Wait {
		err = sleep(ctx, d.flags.Settle())
	}
	tracing.EndSpan(span, err)
	if err != nil {
		return Result{}, err
	}

	observability.RecordDispatch(string(res.Backend), do.Name, time.Since(start), res.Success)
	event := logger.Debug()
	if !res.Success {
		event = logger.Warn()
	}
	event.Str("backend", string(res.Backend)).
		Str("tier", bc.Tier.String()).
		Bool("success", res.Success).
		Bool("finish", res.ShouldFinish).
		Str("message", res.Message).
		Dur("duration", time.Since(start)).
		Msg("Action dispatched")
	return res, nil
}

// backendFor turns the selection into a Backend. A remote session without
// a display yet keeps non-Launch actions local.
func (d *Dispatcher) backendFor(sessionID string, bc device.BackendContext, rd device.RemoteDisplay, name string, logger zerolog.Logger) device.Backend {
	local := &overlayGuard{inner: d.local, overlay: d.overlay, sessionID: sessionID, settle: d.flags.OverlaySettle}
	if !bc.UsesRemote {
		return local
	}
	if bc.RemoteDisplayID == nil && name != action.Launch {
		logger.Debug().Msg("Remote controller has no display yet; using local backend")
		return local
	}
	return &remoteBackend{
		rd:           rd,
		settings:     d.remote,
		maxBackspace: d.maxBackspace,
		logger:       logger,
	}
}

func (d *Dispatcher) execute(ctx context.Context, sessionID string, do action.Do, bc device.BackendContext, b device.Backend, width, height int, logger zerolog.Logger) (Result, error) {
	switch do.Name {
	case action.Launch:
		return d.launch(ctx, do, bc.Tier, b, logger)

	case action.Tap, action.LongPress, action.DoubleTap:
		x, y, err := point(do, action.FieldElem, width, height)
		if err != nil {
			return failure(err.Error()), nil
		}
		switch do.Name {
		case action.LongPress:
			err = b.LongPress(ctx, x, y)
		case action.DoubleTap:
			err = b.DoubleTap(ctx, x, y)
		default:
			err = b.Tap(ctx, x, y)
		}
		return outcome(ctx, err, fmt.Sprintf("%s failed", do.Name))

	case action.Type, action.TypeName:
		text, ok := do.Field(action.FieldText)
		if !ok {
			return failure("Type requires text"), nil
		}
		return outcome(ctx, b.Type(ctx, text), "Type failed")

	case action.Swipe:
		x1, y1, err := point(do, action.FieldStart, width, height)
		if err != nil {
			return failure(err.Error()), nil
		}
		x2, y2, err := point(do, action.FieldEnd, width, height)
		if err != nil {
			return failure(err.Error()), nil
		}
		var dur time.Duration
		if v, ok := do.Field(action.FieldDur); ok {
			if secs, err := action.ParseSeconds(v); err == nil && secs > 0 {
				dur = seconds(secs)
			}
		}
		return outcome(ctx, b.Swipe(ctx, x1, y1, x2, y2, dur), "Swipe failed")

	case action.Back:
		return outcome(ctx, b.Key(ctx, device.KeyBack), "Back failed")

	case action.Home:
		return outcome(ctx, b.Key(ctx, device.KeyHome), "Home failed")

	case action.Wait:
		secs := 1.0
		if v, ok := do.Field(action.FieldDur); ok {
			if parsed, err := action.ParseSeconds(v); err == nil {
				secs = parsed
			}
		}
		if err := sleep(ctx, seconds(secs)); err != nil {
			return Result{}, err
		}
		return Result{Success: true}, nil

	case action.TakeOver:
		msg, ok := do.Field(action.FieldMsg)
		if !ok || msg == "" {
			msg = "User takeover requested"
		}
		logger.Info().Str("session_id", sessionID).Str("message", msg).Msg("Handing control to the user")
		return Result{Success: true, ShouldFinish: true, Message: msg}, nil

	default:
		return failure("Unknown action: " + do.Name), nil
	}
}

func (d *Dispatcher) launch(ctx context.Context, do action.Do, tier device.Tier, b device.Backend, logger zerolog.Logger) (Result, error) {
	app, ok := do.Field(action.FieldApp)
	if !ok || app == "" {
		return failure("Launch requires an app name"), nil
	}

	if tier.RequiresBridge() {
		ready := false
		if d.bridge != nil {
			var err error
			ready, err = d.bridge.Ready(ctx)
			if err != nil && ctx.Err() != nil {
				return Result{}, session.Err(ctx)
			}
		}
		if !ready {
			return Result{ShouldFinish: true, Message: "Authorization bridge is not running or not authorized; cannot launch " + app}, nil
		}
	}

	pkg, err := d.resolve(ctx, app, logger)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, session.Err(ctx)
		}
		return failure(fmt.Sprintf("App not found: %s", app)), nil
	}
	return outcome(ctx, b.Launch(ctx, pkg), "Launch failed")
}

// resolve maps app to a package, refreshing the catalog once on a miss.
func (d *Dispatcher) resolve(ctx context.Context, app string, logger zerolog.Logger) (string, error) {
	if d.apps == nil {
		return app, nil
	}
	if pkg, ok := d.apps.Resolve(ctx, app); ok {
		return pkg, nil
	}
	if err := d.apps.Rescan(ctx); err != nil {
		logger.Warn().Err(err).Msg("App rescan failed")
	}
	if pkg, ok := d.apps.Resolve(ctx, app); ok {
		return pkg, nil
	}
	return "", fmt.Errorf("%w: %s", ErrAppNotFound, app)
}

func point(do action.Do, key string, width, height int) (int, int, error) {
	v, ok := do.Field(key)
	if !ok {
		return 0, 0, fmt.Errorf("%s requires %s", do.Name, key)
	}
	p, err := action.ParsePoint(v)
	if err != nil {
		return 0, 0, err
	}
	x, y := p.ToPixels(width, height)
	return x, y, nil
}

// maxDuration caps model-supplied Wait and Swipe durations.
const maxDuration = 10 * time.Minute

// seconds converts a model-supplied duration, clamped to [0, maxDuration].
func seconds(secs float64) time.Duration {
	if !(secs > 0) {
		return 0
	}
	if secs >= maxDuration.Seconds() {
		return maxDuration
	}
	return time.Duration(secs * float64(time.Second))
}

func failure(msg string) Result { return Result{Message: msg} }

// outcome converts a backend error into a Result, surfacing cancellation.
func outcome(ctx context.Context, err error, prefix string) (Result, error) {
	if err == nil {
		return Result{Success: true}, nil
	}
	if ctx.Err() != nil {
		return Result{}, session.Err(ctx)
	}
	return failure(fmt.Sprintf("%s: %v", prefix, err)), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return session.Err(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return session.Err(ctx)
	case <-t.C:
		return nil
	}
}

type staticFlags struct{}

func (staticFlags) RemoteDisplayEnabled() bool   { return false }
func (staticFlags) Settle() time.Duration        { return 500 * time.Millisecond }
func (staticFlags) OverlaySettle() time.Duration { return 150 * time.Millisecond }
