package pushchan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// WSDialer dials the directory's /ws/{roomId} endpoint.
type WSDialer struct {
	serverURL  string
	httpClient *http.Client
}

// NewWSDialer accepts the directory's http(s) base URL.
func NewWSDialer(serverURL string, httpClient *http.Client) *WSDialer {
	return &WSDialer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
	}
}

func (d *WSDialer) URL(roomID string) (string, error) {
	u, err := url.Parse(d.serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(roomID)
	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context, roomID string) (Transport, error) {
	target, err := d.URL(roomID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: d.httpClient})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: status %d: %w", target, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
