// Package realtime is the duplex stream client for the conversational
// speech service. The service is a black box with a fixed event contract;
// this package only moves frames and events across the wire.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Server event types.
const (
	EventSessionOpen     = "session.open"
	EventAudioDelta      = "audio.delta"
	EventTranscriptDelta = "transcript.delta"
	EventTurnComplete    = "turn.complete"
	EventInterrupted     = "interrupted"
	EventError           = "error"
)

// ServerEvent is one decoded message from the service.
type ServerEvent struct {
	Type string `json:"type"`

	// Audio is base64 PCM16 at 24kHz, present for audio.delta. Audio
	// deltas are always the agent's.
	Audio string `json:"audio,omitempty"`

	// Text and Speaker are present for transcript.delta. Speaker is
	// "user" or "agent".
	Text    string `json:"text,omitempty"`
	Speaker string `json:"speaker,omitempty"`

	// Code and Message are present for error.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type instructionMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Options configures a connection.
type Options struct {
	// URL is the wss endpoint.
	URL string
	// APIKey authenticates the connection.
	APIKey string
	// Language is the BCP 47 tag of the practice language.
	Language string
	// HandshakeTimeout bounds the dial. Default: 10s.
	HandshakeTimeout time.Duration
	// EventBuffer is the size of the event channel. Default: 256.
	EventBuffer int
}

// Client is a live duplex connection. Outbound audio goes as binary frames,
// instructions as JSON text messages; inbound events arrive on Events().
type Client struct {
	conn    *websocket.Conn
	events  chan ServerEvent
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex

	errMu   sync.Mutex
	readErr error
}

// Dial connects to the service. A dial failure aborts session start.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}
	q := u.Query()
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+opts.APIKey)
	}

	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshake}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream connect: %w", err)
	}

	buf := opts.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	c := &Client{
		conn:   conn,
		events: make(chan ServerEvent, buf),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the inbound event channel. It is closed when the
// connection ends; Err reports why.
func (c *Client) Events() <-chan ServerEvent { return c.events }

// Done returns a channel closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the read error that ended the connection, or nil for a
// normal close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// SendAudioFrame sends one PCM16 16kHz mono microphone frame.
func (c *Client) SendAudioFrame(pcm []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// SendText sends a text instruction to the agent. The engine uses this once
// per session, to make the agent open the conversation.
func (c *Client) SendText(text string) error {
	if c.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	payload, err := json.Marshal(instructionMessage{Type: "instruction", Text: text})
	if err != nil {
		return fmt.Errorf("encode instruction: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.errMu.Lock()
				c.readErr = err
				c.errMu.Unlock()
			}
			return
		}

		var ev ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == "" {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
