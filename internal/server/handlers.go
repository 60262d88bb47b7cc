package server

import (
	"errors"
	"net/http"
	"strconv"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleHealth(c *gin.Context) {
	stats := map[string]string{"status": "up"}
	if s.health != nil {
		stats = s.health(c.Request.Context())
	}
	code := http.StatusOK
	if stats["status"] != "up" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, stats)
}

type submitRequest struct {
	Requester domain.Requester `json:"requester"`
	Item      struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Price   int64  `json:"price"`
		Canteen string `json:"canteen"`
	} `json:"item"`
	// Quantity arrives as typed text or as a number.
	Quantity any    `json:"quantity"`
	Note     string `json:"note"`
}

func quantityText(v any) string {
	switch q := v.(type) {
	case string:
		return q
	case float64:
		return strconv.FormatFloat(q, 'f', -1, 64)
	}
	return ""
}

func (s *Server) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.engine.Submit(c.Request.Context(), service.SubmitRequest{
		Requester: req.Requester,
		Item: service.CatalogItem{
			ID:      req.Item.ID,
			Name:    req.Item.Name,
			Price:   req.Item.Price,
			Canteen: req.Item.Canteen,
		},
		Quantity: quantityText(req.Quantity),
		Note:     req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if s.worker != nil {
		s.worker.Wake(c.Request.Context())
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":             viewOf(res.Order),
		"payment_reference": res.PaymentReference,
		"checkout_url":      res.CheckoutURL,
	})
}

func (s *Server) handleCheckPayment(c *gin.Context) {
	res, err := s.engine.CheckPayment(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkResponse(res))
}

func checkResponse(res *service.ReconcileResult) gin.H {
	body := gin.H{
		"payment_reference":    res.PaymentReference,
		"payment_status":       res.PaymentStatus,
		"payment_status_label": paymentStatusLabel(res.PaymentStatus),
		"raw_status":           res.RawStatus,
		"attempts":             res.Attempts,
		"inconclusive":         res.Inconclusive,
		"override_available":   res.OverrideAvailable,
	}
	if res.Order != nil {
		body["order"] = viewOf(res.Order)
	}
	return body
}

type notification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
}

// handleNotify treats a gateway notification as a prompt to reconcile. The
// status it carries is not trusted; the gateway is queried instead.
func (s *Server) handleNotify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var n notification
	if err := c.ShouldBindJSON(&n); err != nil || n.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	res, err := s.engine.CheckPayment(c.Request.Context(), n.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("payment_reference", n.OrderID).Str("transaction_status", n.TransactionStatus).Msg("server: notification not reconciled")
		c.JSON(http.StatusOK, gin.H{"processed": false, "payment_reference": n.OrderID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed":         true,
		"payment_reference": res.PaymentReference,
		"payment_status":    res.PaymentStatus,
	})
}

type overrideRequest struct {
	PaymentStatus string `json:"payment_status"`
}

func (s *Server) handleOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := domain.ParsePaymentStatus(req.PaymentStatus)
	if err != nil {
		writeError(c, err)
		return
	}

	order, err := s.engine.OverridePayment(c.Request.Context(), c.Param("reference"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": viewOf(order)})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	canteen, err := domain.ParseCanteen(c.Param("canteen"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.engine.UpdateOrderStatus(c.Request.Context(), canteen, c.Param("id"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": viewOf(order)})
}

func (s *Server) handlePurge(c *gin.Context) {
	raw := c.Query("canteen")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "canteen query parameter required (A, B, C, D or all)"})
		return
	}
	scope, err := domain.ParseScope(raw)
	if err != nil {
		writeError(c, err)
		return
	}

	n, err := s.engine.PurgeOrders(c.Request.Context(), scope)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n, "scope": scope.String()})
}

// writeError maps engine errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		invalidCanteen *domain.InvalidCanteenError
		initiation     *domain.PaymentInitiationError
		unavailable    *domain.CollectionUnavailableError
		bulk           *domain.BulkDeleteFailure
	)

	switch {
	case errors.As(err, &invalidCanteen),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidItem),
		errors.Is(err, domain.ErrNoteTooLong),
		errors.Is(err, domain.ErrInvalidPaymentStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrPaymentNotSettled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &initiation):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment could not be started, please try again"})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order could not be saved, please try again"})
	case errors.As(err, &bulk):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nothing was deleted", "scope": bulk.Scope.String()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
