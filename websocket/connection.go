package websocket

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"

	poolboard "github.com/JellyTony/poolboard"
)

// Frame wraps a gobwas frame; payloads from browsers arrive masked and are
// unmasked on first read.
type Frame struct {
	raw ws.Frame
}

func (f *Frame) SetOpCode(code poolboard.OpCode) { f.raw.Header.OpCode = ws.OpCode(code) }

func (f *Frame) GetOpCode() poolboard.OpCode { return poolboard.OpCode(f.raw.Header.OpCode) }

func (f *Frame) SetPayload(payload []byte) {
	f.raw.Payload = payload
	f.raw.Header.Length = int64(len(payload))
}

func (f *Frame) GetPayload() []byte {
	if f.raw.Header.Masked {
		ws.Cipher(f.raw.Payload, f.raw.Header.Mask, 0)
		f.raw.Header.Masked = false
	}
	return f.raw.Payload
}

// WsConn is a server side websocket connection. Writes are serialized so
// the hub and the read loop (answering pings) can share it.
type WsConn struct {
	net.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func NewConn(conn net.Conn, writeTimeout time.Duration) *WsConn {
	return &WsConn{Conn: conn, writeTimeout: writeTimeout}
}

func (c *WsConn) ReadFrame() (poolboard.Frame, error) {
	f, err := ws.ReadFrame(c.Conn)
	if err != nil {
		return nil, err
	}
	return &Frame{raw: f}, nil
}

func (c *WsConn) WriteFrame(code poolboard.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return ws.WriteFrame(c.Conn, ws.NewFrame(ws.OpCode(code), true, payload))
}

func (c *WsConn) Flush() error { return nil }
