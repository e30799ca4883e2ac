// Package stream keeps a websocket subscription alive: connect, subscribe,
// read frames on a single goroutine, and reconnect after a fixed delay.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/polymaker/pkg/metrics"
)

// MarketSubscription subscribes the market channel to a set of assets.
type MarketSubscription struct {
	AssetIDs []string `json:"assets_ids"`
}

type UserAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// UserSubscription authenticates the user channel.
type UserSubscription struct {
	Type string   `json:"type"`
	Auth UserAuth `json:"auth"`
}

func NewUserSubscription(apiKey, secret, passphrase string) UserSubscription {
	return UserSubscription{Type: "user", Auth: UserAuth{APIKey: apiKey, Secret: secret, Passphrase: passphrase}}
}

// Handler receives every frame in receipt order. It runs on the read
// goroutine, so frames for one connection are never handled concurrently.
type Handler func(data []byte)

type Supervisor struct {
	Name           string
	URL            string
	Subscribe      interface{}
	Handler        Handler
	Header         http.Header
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	// OnConnect runs after every successful dial and before the subscription
	// is sent, so state that depends on an unbroken stream can be reset.
	OnConnect func()

	Dialer  *websocket.Dialer
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// Run connects and reads until ctx is done, reconnecting after
// ReconnectDelay whenever the session ends.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.Metrics.ObserveReconnect(s.Name)
		}
		err := s.session(ctx, log)
		if ctx.Err() != nil {
			return nil
		}
		log.Warnw("stream_disconnected", "stream", s.Name, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) session(ctx context.Context, log *zap.SugaredLogger) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", s.URL, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	defer conn.Close()
	log.Infow("stream_connected", "stream", s.Name, "url", s.URL)

	if s.OnConnect != nil {
		s.OnConnect()
	}

	var writeMu sync.Mutex
	if s.Subscribe != nil {
		writeMu.Lock()
		err := conn.WriteJSON(s.Subscribe)
		writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)

	// Unblock the reader when the context ends.
	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	if s.PingInterval > 0 {
		go s.ping(conn, &writeMu, done, log)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("closed by peer")
			}
			return fmt.Errorf("read: %w", err)
		}
		s.Handler(data)
	}
}

// ping sends the exchange's text keepalive.
func (s *Supervisor) ping(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}, log *zap.SugaredLogger) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			writeMu.Unlock()
			if err != nil {
				log.Debugw("ping_failed", "stream", s.Name, "error", err)
				return
			}
		}
	}
}
