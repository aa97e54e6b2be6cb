// Package cdp drives a browser tab over the Chrome DevTools Protocol.
package cdp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/resilience"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// ReadLimit bounds a single DevTools message; screenshots of tall pages
// easily exceed the websocket default.
const ReadLimit = 64 << 20

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *protocolError  `json:"error,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string { return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message) }

// Client is one DevTools session. It implements driver.ScriptExecutor and
// raster.ImageProvider.
type Client struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan response
	err     error
	done    chan struct{}
}

// Dial connects to a page's DevTools websocket, retrying while the endpoint
// comes up.
func Dial(ctx context.Context, url string) (*Client, error) {
	var conn *websocket.Conn
	err := resilience.Retry(ctx, resilience.DialRetryConfig(), func() error {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			trace.Logger(ctx).Debug("devtools dial failed", "url", url, "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "connect to devtools").WithMetadata("url", url)
	}
	return newClient(conn), nil
}

func newClient(conn *websocket.Conn) *Client {
	conn.SetReadLimit(ReadLimit)
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		var msg response
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			c.fail(err)
			return
		}
		if msg.ID == 0 {
			// event; nothing subscribes to them yet
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

// Call sends method with params and decodes the result into out, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return apperrors.Wrap(err, apperrors.Unavailable, "devtools connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, request{ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return apperrors.Wrapf(err, apperrors.Unavailable, "send %s", method)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return apperrors.Wrapf(ctx.Err(), apperrors.Cancelled, "waiting for %s", method)
	case <-c.done:
		c.forget(id)
		return apperrors.Wrap(c.err, apperrors.Unavailable, "devtools connection closed")
	case resp := <-ch:
		if resp.Error != nil {
			return apperrors.Wrapf(resp.Error, apperrors.DriverOperation, "%s failed", method)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return apperrors.Wrapf(err, apperrors.DriverOperation, "decode %s result", method)
		}
		return nil
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

type evaluateResult struct {
	Result struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// ExecuteScript runs script as a function body; args are visible as
// arguments[i] and the function's return value is returned by value.
func (c *Client) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "encode script arguments")
	}
	expr := fmt.Sprintf("(function(){%s}).apply(null, %s)", script, encoded)

	var res evaluateResult
	err = c.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res)
	if err != nil {
		return nil, err
	}
	if ex := res.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return nil, apperrors.New(apperrors.DriverOperation, "script threw: "+msg)
	}
	return res.Result.Value, nil
}

// Image captures the visible viewport as a PNG and decodes it.
func (c *Client) Image(ctx context.Context) (image.Image, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := c.Call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"}, &res); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "decode screenshot payload")
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "decode screenshot")
	}
	return img, nil
}

// Viewport is the page's logical viewport and device pixel ratio.
type Viewport struct {
	Size       geometry.Size
	PixelRatio float64
}

// Viewport reads the window's inner size and devicePixelRatio.
func (c *Client) Viewport(ctx context.Context) (Viewport, error) {
	v, err := c.ExecuteScript(ctx, `return [window.innerWidth, window.innerHeight, window.devicePixelRatio || 1];`)
	if err != nil {
		return Viewport{}, err
	}
	vals, ok := v.([]any)
	if !ok || len(vals) != 3 {
		return Viewport{}, apperrors.Newf(apperrors.DriverOperation, "unexpected viewport %v", v)
	}
	wh, err := driver.ToInts(vals[:2], 2)
	if err != nil {
		return Viewport{}, apperrors.Wrap(err, apperrors.DriverOperation, "parse viewport size")
	}
	dpr, err := driver.ToFloat(vals[2])
	if err != nil || dpr <= 0 {
		dpr = 1
	}
	return Viewport{Size: geometry.Size{Width: wh[0], Height: wh[1]}, PixelRatio: dpr}, nil
}

// Title returns document.title.
func (c *Client) Title(ctx context.Context) (string, error) {
	v, err := c.ExecuteScript(ctx, `return document.title;`)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}
