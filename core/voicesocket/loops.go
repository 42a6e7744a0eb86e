package voicesocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-kiosk/core/protocol"
)

func (c *Client) readLoop(l *link) {
	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			c.dropped(l, err)
			return
		}
		l.touch()

		if msgType != websocket.TextMessage {
			logger.Debug("ignoring non-text frame from voice socket", "type", msgType)
			continue
		}
		c.dispatch(data)
	}
}

// heartbeat pings the backend every interval. Any inbound frame counts as
// a sign of life; silence for two intervals is treated as a lost
// connection.
func (c *Client) heartbeat(l *link) {
	interval := c.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		if silence := l.silence(); silence > 2*interval {
			logger.Warn("voice socket heartbeat timed out", "silence", silence)
			c.dropped(l, ErrHeartbeatTimeout)
			return
		}

		data, err := protocol.Encode(protocol.Ping{Timestamp: time.Now().UnixMilli()})
		if err != nil {
			logger.Error("failed to encode ping", "error", err)
			continue
		}

		c.writeMu.Lock()
		l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		err = l.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			logger.Warn("failed to send ping", "error", err)
			c.dropped(l, err)
			return
		}
	}
}
