package monitor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventName is the socket.io event every progress event is emitted on.
const EventName = "sweepgrid"

const connectTimeout = 15 * time.Second

// DialOptions tunes the socket.io connection.
type DialOptions struct {
	Namespace          string
	InsecureSkipVerify bool
}

// SocketIO emits events to a socket.io server.
type SocketIO struct {
	io *socket.Socket
}

var _ Notifier = (*SocketIO)(nil)

// Dial connects to a socket.io server over WebSocket and waits for the
// connection to be acknowledged.
func Dial(ctx context.Context, rawURL string, o DialOptions) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("monitor", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse monitor URL: %w", err)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Monitor connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	logger.Debug("Connecting monitor.")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIO{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}

// Publish emits e as a JSON object. Events are dropped while disconnected.
func (s *SocketIO) Publish(ctx context.Context, e Event) error {
	if !s.io.Connected() {
		ctxlog.FromContext(ctx).Debug("Monitor disconnected, dropping event.", "event", e.Type)
		return nil
	}
	var payload map[string]any
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	s.io.Emit(EventName, payload)
	return nil
}

func (s *SocketIO) Close() error {
	s.io.Disconnect()
	return nil
}
