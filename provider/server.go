package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/cryptosvc"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

const maxRequestBody = 64 * 1024

// Server wraps a Provider with its HTTP transport.
type Server struct {
	provider   *Provider
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the gin-routed HTTP surface for p.
func NewServer(p *Provider) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.HandleMethodNotAllowed = true

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "Invalid request"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "METHOD_NOT_ALLOWED", "message": "Invalid request"})
	})

	s := &Server{provider: p, engine: engine}

	engine.Use(s.limitBodySize)

	engine.GET("/ivxp/catalog", s.handleCatalog)
	engine.POST("/ivxp/request", s.handleRequest)
	engine.POST("/ivxp/deliver", s.handlePaymentLegacy)
	engine.POST("/ivxp/orders/:id/payment", s.handlePaymentCanonical)
	engine.GET("/ivxp/status/:id", s.handleStatusLegacy)
	engine.GET("/ivxp/orders/:id", s.handleStatusCanonical)
	engine.GET("/ivxp/download/:id", s.handleDownloadLegacy)
	engine.GET("/ivxp/orders/:id/deliverable", s.handleDownloadCanonical)
	engine.POST("/ivxp/orders/:id/confirm", s.handleConfirm)

	s.httpServer = &http.Server{Handler: normalizePath(engine)}
	return s
}

// normalizePath strips trailing slashes from the request path (preserving
// root "/") before gin's router matches it.
func normalizePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimRight(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBodySize(c *gin.Context) {
	if c.Request.ContentLength > maxRequestBody {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": ivxp.ErrRequestTooLarge, "message": "Invalid request"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
	c.Next()
}

// Listen binds the server to cfg.Host:cfg.Port and starts serving in the
// background. Returns the resolved listener address (useful when Port==0).
func (s *Server) Listen() (string, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(s.provider.cfg.Host, itoa(s.provider.cfg.Port)))
	if err != nil {
		return "", ivxp.Wrap(ivxp.ErrNetworkError, "failed to bind provider listener", err)
	}
	go s.httpServer.Serve(l)
	return l.Addr().String(), nil
}

// Stop drains in-flight requests and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Server) handleCatalog(c *gin.Context) {
	p := s.provider
	offerings := make([]schema.ServiceOfferingWire, 0, len(p.services))
	for _, svc := range p.services {
		offerings = append(offerings, schema.ServiceOfferingWire{
			Type:                   svc.Type,
			Description:            svc.Description,
			BasePriceUsdc:          svc.BasePriceUsdc,
			EstimatedDeliveryHours: svc.EstimatedDeliveryHours,
		})
	}
	c.JSON(http.StatusOK, schema.ServiceCatalogWire{
		Protocol:      ivxp.ProtocolVersion,
		Provider:      p.cfg.ProviderName,
		WalletAddress: p.paymentAddress,
		Services:      offerings,
		MessageType:   "ServiceCatalog",
		Timestamp:     schema.FormatTimestamp(time.Now()),
	})
}

func (s *Server) handleRequest(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		return
	}
	errs, verr := schema.Validate("service_request", raw)
	if verr != nil || len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}

	var wire schema.ServiceRequestWire
	if err := bindJSON(raw, &wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}
	if !cryptosvc.IsValidAddress(wire.ClientAgent.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}

	offering, ok := s.provider.services[wire.ServiceType]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ivxp.ErrServiceNotFound, "message": "Invalid request"})
		return
	}

	orderID := "ivxp-" + uuid.NewString()
	now := time.Now().UTC()
	order := ivxp.Order{
		OrderID:        orderID,
		ServiceType:    wire.ServiceType,
		ClientAddress:  wire.ClientAgent.WalletAddress,
		PaymentAddress: s.provider.paymentAddress,
		PriceUsdc:      offering.BasePriceUsdc,
		Network:        s.provider.cfg.Network,
		Status:         ivxp.StatusQuoted,
		CreatedAt:      now,
	}
	if err := s.provider.orders.Create(order); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "Invalid request"})
		return
	}
	s.provider.logger.Infow("order created", "orderId", orderID, "serviceType", wire.ServiceType, "client", wire.ClientAgent.WalletAddress)

	estimatedDelivery := now.Add(time.Duration(offering.EstimatedDeliveryHours) * time.Hour)
	quote := ivxp.Quote{
		OrderID:           orderID,
		PriceUsdc:         offering.BasePriceUsdc,
		PaymentAddress:    s.provider.paymentAddress,
		Network:           s.provider.cfg.Network,
		EstimatedDelivery: estimatedDelivery,
		ProviderAgent:     s.provider.cfg.ProviderName,
	}
	c.JSON(http.StatusOK, schema.ToWireQuote(quote))
}

func (s *Server) handlePaymentLegacy(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		return
	}
	var wire struct {
		OrderID string `json:"order_id"`
	}
	if bindJSON(raw, &wire) != nil || wire.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}
	s.acceptPayment(c, wire.OrderID, raw)
}

func (s *Server) handlePaymentCanonical(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		return
	}
	s.acceptPayment(c, c.Param("id"), raw)
}

func (s *Server) acceptPayment(c *gin.Context, orderID string, raw []byte) {
	if errs, verr := schema.Validate("payment_proof", raw); verr != nil || len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}
	proof, err := schema.FromWirePaymentProof(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}
	var body struct {
		SignedMessage    string `json:"signed_message"`
		DeliveryEndpoint string `json:"delivery_endpoint"`
	}
	bindJSON(raw, &body)

	result, accepted := s.provider.acceptDelivery(orderID, proof, body.SignedMessage, body.DeliveryEndpoint)
	if !accepted {
		c.JSON(result.httpStatus, gin.H{"error": result.code, "message": "Invalid request"})
		return
	}

	go s.provider.processOrder(orderID)

	c.JSON(http.StatusOK, schema.DeliveryAcceptedWire{
		OrderID: orderID,
		Status:  "accepted",
		Message: "payment accepted",
	})
}

func (s *Server) handleStatusLegacy(c *gin.Context) { s.status(c, c.Param("id")) }
func (s *Server) handleStatusCanonical(c *gin.Context) { s.status(c, c.Param("id")) }

func (s *Server) status(c *gin.Context, orderID string) {
	order, err := s.provider.orders.Get(orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": ivxp.ErrOrderNotFound, "message": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, schema.OrderStatusWire{
		OrderID:     order.OrderID,
		Status:      string(order.Status),
		Service:     order.ServiceType,
		CreatedAt:   schema.FormatTimestamp(order.CreatedAt),
		ContentHash: order.ContentHash,
	})
}

func (s *Server) handleDownloadLegacy(c *gin.Context)    { s.download(c, c.Param("id")) }
func (s *Server) handleDownloadCanonical(c *gin.Context) { s.download(c, c.Param("id")) }

func (s *Server) download(c *gin.Context, orderID string) {
	d, err := s.provider.deliverables.Get(orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": ivxp.ErrDeliverableNotReady, "message": "Invalid request"})
		return
	}

	wire := schema.DeliveryResponseWire{
		OrderID:     d.OrderID,
		ContentType: d.ContentType,
		ContentHash: d.ContentHash,
	}
	if isTextual(d.ContentType) {
		wire.Content = string(d.Content)
	} else {
		wire.Content = base64.StdEncoding.EncodeToString(d.Content)
		wire.ContentEncoding = "base64"
	}
	c.JSON(http.StatusOK, wire)
}

func (s *Server) handleConfirm(c *gin.Context) {
	orderID := c.Param("id")
	raw, err := readBody(c)
	if err != nil {
		return
	}
	if errs, verr := schema.Validate("delivery_confirmation", raw); verr != nil || len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}
	_, signature, signedMessage, err := schema.FromWireDeliveryConfirmation(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ivxp.ErrInvalidRequestParams, "message": "Invalid request"})
		return
	}

	status, result := s.provider.confirmOrder(orderID, signature, signedMessage)
	if status != http.StatusOK {
		c.JSON(status, gin.H{"error": result.code, "message": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, result.response)
}

func readBody(c *gin.Context) ([]byte, error) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": ivxp.ErrRequestTooLarge, "message": "Invalid request"})
		return nil, err
	}
	return raw, nil
}

func bindJSON(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func isTextual(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "xml")
}
