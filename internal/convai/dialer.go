package convai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/phonebridge/internal/bridge"
)

// maxMessageBytes bounds a single AI frame. Audio chunks are well below this.
const maxMessageBytes = 1 << 20

type Config struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	// APIKey is sent as xi-api-key when set. Signed URLs do not need it.
	APIKey string
}

// Dialer opens conversational AI websockets from provisioned signed URLs.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (bridge.Socket, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("dial convai: empty url")
	}
	headers := http.Header{}
	if d.cfg.APIKey != "" {
		headers.Set("xi-api-key", d.cfg.APIKey)
	}

	conn, res, err := d.dialer.DialContext(ctx, url, headers)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("dial convai: status %d: %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("dial convai: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return bridge.WrapConn(conn, d.cfg.ReadTimeout), nil
}
