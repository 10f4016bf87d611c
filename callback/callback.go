// Package callback implements IVXP's push-delivery receiver: a small gin
// server a client runs to accept provider-initiated deliveries at
// POST /ivxp/callback, verifying the pushed content against its declared
// hash before dispatching it to application code.
package callback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/hash"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

// Delivery is a content payload the provider pushed for a single order.
type Delivery struct {
	OrderID     string
	ContentHash string
	ContentType string
	Content     []byte
}

// Rejection describes why a pushed delivery was refused.
type Rejection struct {
	Reason       string `json:"reason"`
	ExpectedHash string `json:"expectedHash,omitempty"`
	ComputedHash string `json:"computedHash,omitempty"`
}

// Handlers dispatches verified and rejected deliveries.
type Handlers struct {
	OnDelivery func(Delivery)
	OnRejected func(orderID string, reason Rejection)
}

// Server is a loopback-bound HTTP server accepting pushed deliveries.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
}

// New builds a callback Server that serves POST /ivxp/callback. addr
// (default "127.0.0.1:0" when empty) is what Addr reports until Start is
// called; the server is bound by the listener the caller passes to Start.
func New(addr string, handlers Handlers) *Server {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/ivxp/callback", func(c *gin.Context) {
		handleCallback(c, handlers)
	})

	return &Server{
		engine:     engine,
		httpServer: &http.Server{Addr: addr, Handler: engine},
	}
}

// Addr returns the address the server is listening on once Start has
// returned; before that it returns the address given to New (or its
// default).
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins serving on a background goroutine using listener l (the
// caller owns binding so Addr() can report the resolved port immediately).
func (s *Server) Start(l net.Listener) {
	s.httpServer.Addr = l.Addr().String()
	go s.httpServer.Serve(l)
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func handleCallback(c *gin.Context, handlers Handlers) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "malformed callback body"})
		return
	}
	if errs, verr := schema.Validate("callback", raw); verr != nil || len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "malformed callback body"})
		return
	}

	var wire schema.CallbackWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "malformed callback body"})
		return
	}

	content, err := decodeContent(wire.Content, wire.ContentEncoding)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "content is not valid base64"})
		return
	}

	computed := hash.Sum(content)
	if !strings.EqualFold(computed, wire.ContentHash) {
		if handlers.OnRejected != nil {
			handlers.OnRejected(wire.OrderID, Rejection{
				Reason:       ivxp.ErrHashMismatch,
				ExpectedHash: wire.ContentHash,
				ComputedHash: computed,
			})
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrHashMismatch, "message": "content hash does not match declared hash"})
		return
	}

	if handlers.OnDelivery != nil {
		handlers.OnDelivery(Delivery{
			OrderID:     wire.OrderID,
			ContentHash: wire.ContentHash,
			ContentType: wire.ContentType,
			Content:     content,
		})
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func decodeContent(s, encoding string) ([]byte, error) {
	if strings.EqualFold(encoding, "base64") {
		return base64.StdEncoding.DecodeString(s)
	}
	return []byte(s), nil
}
