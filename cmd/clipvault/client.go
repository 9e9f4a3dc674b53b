package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/crypto"
	"github.com/clipvault/clipvault/internal/ipc"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
	"github.com/clipvault/clipvault/internal/wire"
)

const requestTimeout = 5 * time.Second

// surfaceClient is a short-lived surface connection to the background daemon.
type surfaceClient struct {
	wc *wire.Conn
}

// dialSurface connects to the background daemon over the IPC socket and
// completes the hello handshake as the given surface origin.
func dialSurface(v *viper.Viper, origin op.Origin) (*surfaceClient, error) {
	if !ipc.IsRunning() {
		return nil, fmt.Errorf("no background daemon on %s — start one with \"clipvault serve\"", ipc.SocketPath())
	}
	conn, err := ipc.Dial()
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ipc.SocketPath(), err)
	}

	token := v.GetString("token")
	var key *[32]byte
	if token != "" {
		key, err = crypto.DeriveKey(token)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("key derivation: %w", err)
		}
	}

	wc := wire.New(conn, key)
	hello := &message.Message{
		Type:    message.TypeHello,
		Origin:  origin,
		Source:  defaultSource(),
		Payload: encodeToken(token),
	}
	if err := wc.WriteMsg(hello); err != nil {
		wc.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	return &surfaceClient{wc: wc}, nil
}

func (c *surfaceClient) Close() { _ = c.wc.Close() }

// send writes one fire-and-forget message.
func (c *surfaceClient) send(msg *message.Message) error {
	return c.wc.WriteMsg(msg)
}

// request writes msg and reads until a message of type want (or an error
// response) arrives, answering pings along the way. The first message after
// connecting may be the registration snapshot push; it is skipped unless it
// is the wanted type.
func (c *surfaceClient) request(msg *message.Message, want message.Type) (*message.Message, error) {
	if err := c.wc.WriteMsg(msg); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	deadline := time.Now().Add(requestTimeout)
	for time.Now().Before(deadline) {
		c.wc.SetReadDeadline(time.Until(deadline))
		resp, err := c.wc.ReadMsg()
		if err != nil {
			return nil, fmt.Errorf("response: %w", err)
		}
		switch resp.Type {
		case want:
			return resp, nil
		case message.TypeError:
			return nil, fmt.Errorf("daemon: %s", resp.Error)
		case message.TypePing:
			_ = c.wc.WriteMsg(&message.Message{Type: message.TypePong})
		default:
			// Unrelated broadcast (e.g. clipboard-updated); keep reading.
		}
	}
	return nil, fmt.Errorf("timed out waiting for %s", want)
}

func encodeToken(token string) string {
	return base64.StdEncoding.EncodeToString([]byte(token))
}

// defaultSource returns a human-readable identifier for this surface.
func defaultSource() string {
	if v := os.Getenv("CLIPVAULT_SOURCE"); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// parseOrigin maps a --origin flag value to a surface origin, rejecting
// unknown surfaces and the background (only the daemon speaks as background).
func parseOrigin(s string) (op.Origin, error) {
	o := op.Origin(s)
	if !op.KnownOrigin(o) || o == op.OriginBackground {
		return "", fmt.Errorf("unknown origin %q (want popup|sidepanel|content)", s)
	}
	return o, nil
}
