package wsbridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/rx"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	maxFrameSize = 64 * 1024
	sendBuffer   = 256
	frameBuffer  = 64
)

// maxCloseReason keeps a close reason within a control frame.
const maxCloseReason = 123

// peer is one attached websocket. Chunks read from the port go out as
// binary frames; every received frame is written to the port.
type peer struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	send   chan []byte
	frames chan []byte
	done   chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	readSub  *rx.Subscription
	writeSub *rx.Subscription
}

func (s *Server) serveSocket(c *gin.Context) {
	if !s.client.Connected() {
		s.fail(c, http.StatusConflict, rxserial.NewError(rxserial.PortNotOpen, "port is not open", nil))
		return
	}

	p := &peer{
		id:     uuid.NewString(),
		send:   make(chan []byte, sendBuffer),
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}
	p.logger = s.logger.With(zap.String("peer_id", p.id))

	reads, err := s.client.ReadStream()
	if err != nil {
		s.fail(c, http.StatusConflict, err)
		return
	}
	// The frame channel is never closed: a departing peer unsubscribes
	// instead of completing, which would close the port's writable side.
	writes, err := s.client.WriteStream(rx.FromChannel(p.frames))
	if err != nil {
		s.fail(c, http.StatusConflict, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	p.conn = conn
	p.logger.Info("WebSocket peer attached", zap.String("remote_addr", c.Request.RemoteAddr))

	p.readSub = reads.Subscribe(rx.Funcs[[]byte]{
		Next: func(chunk []byte) {
			select {
			case p.send <- chunk:
			case <-p.done:
			}
		},
		Error:    func(err error) { p.close(websocket.CloseInternalServerErr, err.Error()) },
		Complete: func() { p.close(websocket.CloseNormalClosure, "port closed") },
	})
	p.writeSub = writes.SubscribeFuncs(nil,
		func(err error) { p.close(websocket.CloseInternalServerErr, err.Error()) },
		nil,
	)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		p.writeLoop()
	}()
	p.readLoop()
	p.close(websocket.CloseNormalClosure, "")
	<-finished

	p.readSub.Unsubscribe()
	p.writeSub.Unsubscribe()
	p.logger.Info("WebSocket peer detached")
}

// close ends the peer once; the first reason wins.
func (p *peer) close(code int, reason string) {
	p.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		p.closeCode = code
		p.closeReason = reason
		close(p.done)
	})
}

func (p *peer) readLoop() {
	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case p.frames <- data:
		case <-p.done:
			return
		}
	}
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case chunk := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				p.logger.Warn("WebSocket write error", zap.Error(err))
				p.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-p.done:
			p.flush()
			msg := websocket.FormatCloseMessage(p.closeCode, p.closeReason)
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush sends the chunks still queued when the peer is closed.
func (p *peer) flush() {
	for {
		select {
		case chunk := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		default:
			return
		}
	}
}
