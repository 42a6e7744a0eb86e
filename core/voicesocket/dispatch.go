package voicesocket

import (
	"github.com/koscakluka/ema-kiosk/core/protocol"
)

// Handler receives a decoded inbound message. Handlers run on the read
// goroutine in arrival order and must not block.
type Handler func(protocol.Inbound)

// Handle registers handler for messages of the given type.
func (c *Client) Handle(msgType protocol.MessageType, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], handler)
}

// HandleAny registers handler for every known message type.
func (c *Client) HandleAny(handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.anyHandlers = append(c.anyHandlers, handler)
}

func (c *Client) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		logger.Warn("dropping malformed voice socket message", "error", err)
		return
	}
	if unknown, ok := msg.(protocol.Unknown); ok {
		logger.Warn("dropping voice socket message of unknown type", "type", unknown.Kind)
		return
	}

	c.handlersMu.RLock()
	handlers := append([]Handler{}, c.handlers[msg.Type()]...)
	handlers = append(handlers, c.anyHandlers...)
	c.handlersMu.RUnlock()

	for _, handler := range handlers {
		c.invoke(handler, msg)
	}
}

func (c *Client) invoke(handler Handler, msg protocol.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("voice socket handler panicked", "type", msg.Type(), "panic", r)
		}
	}()
	handler(msg)
}
