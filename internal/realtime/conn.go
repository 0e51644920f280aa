package realtime

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/oklog/ulid/v2"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxClientFrameSize  = 64 << 10
)

// WSConn is the server side of an upgraded WebSocket connection.
// Writes are serialized; reads belong to the single Serve loop.
type WSConn struct {
	id   string
	conn net.Conn

	wmu          sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func NewWSConn(conn net.Conn) *WSConn {
	return &WSConn{id: ulid.Make().String(), conn: conn, writeTimeout: defaultWriteTimeout}
}

func (c *WSConn) ID() string { return c.id }

// Send writes msg as a single text frame.
func (c *WSConn) Send(ctx context.Context, msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, msg)
}

// ReadMessage returns the next text or binary message from the client.
// Control frames are answered in between; a close frame is echoed and
// ends the connection with a wsutil.ClosedError.
func (c *WSConn) ReadMessage() ([]byte, ws.OpCode, error) {
	rd := wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   maxClientFrameSize,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, &rd); err != nil {
				return nil, 0, err
			}
			continue
		}
		data, err := io.ReadAll(&rd)
		return data, hdr.OpCode, err
	}
}

// handleControl answers a ping or close frame. The reply is built in memory
// and written as one locked write so it cannot interleave with Send.
func (c *WSConn) handleControl(h ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	// r is already unmasked by wsutil.Reader.
	err := wsutil.ControlHandler{
		Src:                 r,
		Dst:                 &reply,
		State:               ws.StateServerSide,
		DisableSrcCiphering: true,
	}.Handle(h)

	if h.OpCode == ws.OpClose {
		c.closeOnce.Do(func() {
			if reply.Len() > 0 {
				_ = c.writeRaw(reply.Bytes(), time.Now().Add(time.Second))
			}
			c.closeErr = c.conn.Close()
		})
		return err
	}
	if reply.Len() > 0 {
		if werr := c.writeRaw(reply.Bytes(), time.Now().Add(c.writeTimeout)); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (c *WSConn) writeRaw(frame []byte, deadline time.Time) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(frame)
	return err
}

// CloseWith sends a close frame with code and reason, then closes the socket.
func (c *WSConn) CloseWith(code ws.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(code, reason))
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSConn) Close() error {
	return c.CloseWith(ws.StatusNormalClosure, "")
}
