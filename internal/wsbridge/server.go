// Package wsbridge exposes a connected rxserial.Client over HTTP: the port
// list and connection status as JSON, and the byte streams over a
// websocket.
package wsbridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/allbin/go-rxserial"
)

// connectTimeout bounds port selection and opening triggered over HTTP.
const connectTimeout = 30 * time.Second

// Server serves one client. Only one websocket peer is attached at a time;
// a new peer supersedes the streams of the previous one.
type Server struct {
	client   *rxserial.Client
	logger   *zap.Logger
	origins  []string
	upgrader websocket.Upgrader
}

// New creates a server for client. An empty origins list allows every
// origin.
func New(client *rxserial.Client, logger *zap.Logger, origins []string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		client:  client,
		logger:  logger.With(zap.String("component", "wsbridge")),
		origins: origins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) allowAll() bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAll() {
		return true
	}
	for _, o := range s.origins {
		if o == origin {
			return true
		}
	}
	return false
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.recovery(), s.requestLogger(), cors.New(s.corsConfig()))

	router.GET("/ports", s.listPorts)
	router.GET("/status", s.status)
	router.POST("/connect", s.connect)
	router.POST("/disconnect", s.disconnect)
	router.GET("/ws", s.serveSocket)
	return router
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if s.allowAll() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return cfg
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stacktrace"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := zapcore.DebugLevel
		switch status := c.Writer.Status(); {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}
		if ce := s.logger.Check(level, "API request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Int("status_code", c.Writer.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}

type portBody struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Description  string `json:"description,omitempty"`
	USBVendorID  *int   `json:"usb_vendor_id,omitempty"`
	USBProductID *int   `json:"usb_product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

func newPortBody(info rxserial.PortInfo) portBody {
	return portBody{
		Name:         info.Name,
		Path:         info.Path,
		Description:  info.Description,
		USBVendorID:  info.USBVendorID,
		USBProductID: info.USBProductID,
		SerialNumber: info.SerialNumber,
	}
}

type statusBody struct {
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	Session   string    `json:"session,omitempty"`
	Port      *portBody `json:"port,omitempty"`
	Config    string    `json:"config"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	body := errorBody{Error: err.Error()}
	var e *rxserial.Error
	if errors.As(err, &e) {
		body.Kind = string(e.Kind)
	}
	c.JSON(status, body)
}

func (s *Server) listPorts(c *gin.Context) {
	ports, err := s.client.GetPorts(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusServiceUnavailable, err)
		return
	}
	out := make([]portBody, 0, len(ports))
	for _, p := range ports {
		out = append(out, newPortBody(p.Info()))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) statusBody() statusBody {
	body := statusBody{
		State:     s.client.State().String(),
		Connected: s.client.Connected(),
		Session:   s.client.Session(),
		Config:    s.client.Config().String(),
	}
	if p := s.client.CurrentPort(); p != nil {
		info := newPortBody(p.Info())
		body.Port = &info
	}
	return body
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusBody())
}

// connect opens a port chosen by the platform from the configured filters.
func (s *Server) connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()

	if err := s.client.Connect(ctx, nil); err != nil {
		status := http.StatusBadGateway
		switch {
		case rxserial.IsKind(err, rxserial.PortAlreadyOpen):
			status = http.StatusConflict
		case rxserial.IsKind(err, rxserial.OperationCancelled), rxserial.IsKind(err, rxserial.PortNotAvailable):
			status = http.StatusNotFound
		}
		s.fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, s.statusBody())
}

func (s *Server) disconnect(c *gin.Context) {
	if err := s.client.Disconnect(c.Request.Context()); err != nil {
		s.fail(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, s.statusBody())
}
