package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xtxerr/tabarch/config"
)

// Client is a websocket table monitor. It dials the feed server, subscribes
// to one table, and delivers updates to a Receiver serially from its read
// loop. On connection loss it notifies the receiver and reconnects with
// backoff until closed.
type Client struct {
	url   string
	table string
	recv  Receiver
	log   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
}

// NewClient creates a monitor for one table on the given feed server.
// Delivery begins after Start.
func NewClient(url, table string, recv Receiver, log *slog.Logger) *Client {
	return &Client{
		url:   url,
		table: table,
		recv:  recv,
		log:   log,
	}
}

// Start begins dialing and delivering. The subscription runs until Close or
// until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Close implements Monitor. It stops the delivery loop and waits for it.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}

// run is the connect-deliver-reconnect loop.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := config.DefaultFeedReconnectMin

	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("feed dial failed", "url", c.url, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, config.DefaultFeedReconnectMax)
			continue
		}

		backoff = config.DefaultFeedReconnectMin
		c.log.Info("feed connected", "url", c.url, "table", c.table)

		c.readLoop(ctx, conn)

		// Every drop is surfaced to the receiver; the next update after a
		// reconnect carries last-known state and will be discarded there.
		c.recv.Disconnected()
		if ctx.Err() == nil {
			c.log.Warn("feed disconnected", "table", c.table)
		}
	}
}

// dial connects and subscribes to the table.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	sub, err := encodeMonitor(c.table)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(config.DefaultFeedWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// readLoop reads messages until the connection drops or ctx is cancelled.
// Updates are delivered inline, so delivery is serial by construction.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(config.DefaultFeedMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(config.DefaultFeedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.DefaultFeedPongWait))
		return nil
	})

	// Ping ticker keeps the read deadline honest.
	pingPeriod := config.DefaultFeedPongWait * 9 / 10
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(config.DefaultFeedWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("feed read failed", "error", err)
			}
			return
		}

		u, err := decodeUpdate(message)
		if err != nil {
			c.log.Error("feed message rejected", "table", c.table, "error", err)
			continue
		}
		if u == nil {
			continue // not an update message
		}
		c.recv.Update(u)
	}
}
