package vdisplay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/phonepilot/pkg/device"
)

var _ device.RemoteDisplay = (*Controller)(nil)

// Options configures a Controller.
type Options struct {
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// Controller is one session's connection to the display agent.
type Controller struct {
	sessionID string
	conn      *websocket.Conn
	timeout   time.Duration
	logger    zerolog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	closed    chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}

	stateMu   sync.RWMutex
	displayID *int
	requested displaySpec
	width     int
	height    int
	launched  string
}

// displaySpec is the resolution and density a display was requested with.
type displaySpec struct {
	width, height, dpi int
}

// Dial connects to the display agent at endpoint for sessionID.
func Dial(ctx context.Context, endpoint, sessionID string, opts Options) (*Controller, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial display agent: %w", err)
	}
	return newController(conn, sessionID, opts), nil
}

func newController(conn *websocket.Conn, sessionID string, opts Options) *Controller {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	c := &Controller{
		sessionID: sessionID,
		conn:      conn,
		timeout:   opts.CallTimeout,
		logger:    opts.Logger.With().Str("component", "vdisplay").Str("session_id", sessionID).Logger(),
		pending:   make(map[string]chan rpcResponse),
		closed:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Controller) readLoop() {
	defer close(c.readDone)
	defer c.close()
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn().Err(err).Msg("Display agent connection lost")
			}
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call sends one request and waits for its response, the call timeout, or
// ctx, whichever comes first.
func (c *Controller) call(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.closed:
		return ErrControllerClosed
	default:
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	ch := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err = c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrCallTimeout, method)
	case <-c.closed:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the owning session.
func (c *Controller) SessionID() string { return c.sessionID }

// Alive reports whether the connection is still open.
func (c *Controller) Alive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// EnsureDisplay creates the virtual display, or reuses it when it was
// created with the same size and density. The comparison uses the requested
// values, not the size the agent reports back.
func (c *Controller) EnsureDisplay(ctx context.Context, width, height, dpi, bitrate int) error {
	want := displaySpec{width: width, height: height, dpi: dpi}
	c.stateMu.RLock()
	ready := c.displayID != nil && c.requested == want
	c.stateMu.RUnlock()
	if ready {
		return nil
	}

	var res ensureResult
	if err := c.call(ctx, MethodEnsureDisplay, ensureParams{width, height, dpi, bitrate}, &res); err != nil {
		return err
	}
	if res.Width == 0 || res.Height == 0 {
		res.Width, res.Height = width, height
	}
	c.stateMu.Lock()
	id := res.DisplayID
	c.displayID = &id
	c.requested = want
	c.width, c.height = res.Width, res.Height
	c.stateMu.Unlock()
	c.logger.Info().Int("display_id", id).Int("width", res.Width).Int("height", res.Height).Msg("Virtual display ready")
	return nil
}

// DisplayID returns the display id once EnsureDisplay succeeded.
func (c *Controller) DisplayID() (int, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.displayID == nil {
		return 0, false
	}
	return *c.displayID, true
}

// VideoSize returns the display size in pixels, or zeros before
// EnsureDisplay.
func (c *Controller) VideoSize() (int, int) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.width, c.height
}

// Annotate records the package last launched on the display.
func (c *Controller) Annotate(pkg string) {
	c.stateMu.Lock()
	c.launched = pkg
	c.stateMu.Unlock()
}

// LaunchedPackage returns the package recorded by Annotate.
func (c *Controller) LaunchedPackage() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.launched
}

func (c *Controller) display() (int, error) {
	id, ok := c.DisplayID()
	if !ok {
		return 0, ErrNoDisplay
	}
	return id, nil
}

func (c *Controller) LaunchApp(ctx context.Context, pkg string) error {
	id, err := c.display()
	if err != nil {
		return err
	}
	return c.call(ctx, MethodLaunch, launchParams{DisplayID: id, Package: pkg}, nil)
}

func (c *Controller) Tap(ctx context.Context, x, y int) error {
	return c.Press(ctx, x, y, 0)
}

// Press taps and holds for d; zero is a plain tap.
func (c *Controller) Press(ctx context.Context, x, y int, d time.Duration) error {
	id, err := c.display()
	if err != nil {
		return err
	}
	return c.call(ctx, MethodTap, tapParams{DisplayID: id, X: x, Y: y, DurationMS: int(d.Milliseconds())}, nil)
}

func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	id, err := c.display()
	if err != nil {
		return err
	}
	return c.call(ctx, MethodSwipe, swipeParams{id, x1, y1, x2, y2, int(d.Milliseconds())}, nil)
}

func (c *Controller) Key(ctx context.Context, code int) error {
	return c.KeyWithMeta(ctx, code, 0)
}

// KeyWithMeta sends a key event with Android meta state flags.
func (c *Controller) KeyWithMeta(ctx context.Context, code, meta int) error {
	id, err := c.display()
	if err != nil {
		return err
	}
	return c.call(ctx, MethodKey, keyParams{DisplayID: id, Code: code, Meta: meta}, nil)
}

// SetClipboard replaces the device clipboard.
func (c *Controller) SetClipboard(ctx context.Context, text string) error {
	return c.call(ctx, MethodClipboard, clipboardParams{Text: text}, nil)
}

// Snapshot captures the virtual display.
func (c *Controller) Snapshot(ctx context.Context) (device.Screenshot, error) {
	id, err := c.display()
	if err != nil {
		return device.Screenshot{}, err
	}
	var res snapshotResult
	if err := c.call(ctx, MethodSnapshot, displayParams{DisplayID: id}, &res); err != nil {
		return device.Screenshot{}, err
	}
	data, err := base64.StdEncoding.DecodeString(res.PNG)
	if err != nil {
		return device.Screenshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return device.Screenshot{PNG: data, Width: res.Width, Height: res.Height}, nil
}

// Shutdown releases the display (best effort) and closes the connection.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	if id, ok := c.DisplayID(); ok && c.Alive() {
		err = c.call(ctx, MethodRelease, displayParams{DisplayID: id}, nil)
		if errors.Is(err, ErrControllerClosed) {
			err = nil
		}
	}
	c.close()
	<-c.readDone
	return err
}

func (c *Controller) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}
