// README: Order handlers; quote, create, lifecycle transitions, payment, expiry and tracking.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dropoff/internal/http/middleware"
	"dropoff/internal/modules/location"
	"dropoff/internal/modules/matching"
	"dropoff/internal/modules/order"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/types"
)

type OrderHandler struct {
	order    *order.Service
	matching *matching.Service
}

func NewOrderHandler(svc *order.Service, matchingSvc *matching.Service) *OrderHandler {
	return &OrderHandler{order: svc, matching: matchingSvc}
}

// Coordinates stay raw so every client shape goes through location.Normalize.
type quoteReq struct {
	Type     string          `json:"type"`
	Pickup   json.RawMessage `json:"pickupLocation"`
	Delivery json.RawMessage `json:"deliveryLocation"`
	Package  pricing.Package `json:"package"`
}

type createOrderReq struct {
	quoteReq
	UserID string `json:"userId"`
}

func (r quoteReq) command() (order.QuoteCommand, error) {
	t, err := pricing.ParseOrderType(r.Type)
	if err != nil {
		return order.QuoteCommand{}, err
	}
	delivery, err := location.Normalize(r.Delivery)
	if err != nil {
		return order.QuoteCommand{}, err
	}
	cmd := order.QuoteCommand{Type: t, Delivery: delivery, Package: r.Package}
	if t != pricing.TypeErrand && len(r.Pickup) > 0 && string(r.Pickup) != "null" {
		p, err := location.Normalize(r.Pickup)
		if err != nil {
			return order.QuoteCommand{}, err
		}
		cmd.Pickup = &p
	}
	return cmd, nil
}

func (h *OrderHandler) Quote(c *gin.Context) {
	var req quoteReq
	if !bindJSON(c, &req) {
		return
	}
	cmd, err := req.command()
	if err != nil {
		writeDomainError(c, err)
		return
	}
	q, err := h.order.Quote(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if !bindJSON(c, &req) {
		return
	}
	userID := req.UserID
	if uid := middleware.CallerUID(c); uid != "" {
		if userID == "" {
			userID = uid
		}
		if userID != uid && middleware.CallerRole(c) != middleware.RoleAdmin {
			writeError(c, http.StatusForbidden, "cannot create orders for another user")
			return
		}
	}
	cmd, err := req.command()
	if err != nil {
		writeDomainError(c, err)
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{UserID: types.ID(userID), QuoteCommand: cmd})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type assignReq struct {
	RiderID string `json:"riderId"`
}

func (h *OrderHandler) Assign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.AssignRider(c.Request.Context(), order.AssignCommand{OrderID: id, RiderID: types.ID(req.RiderID)})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type advanceReq struct {
	Status  string `json:"status"`
	ActorID string `json:"actorId"`
}

func (h *OrderHandler) Advance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req advanceReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.Advance(c.Request.Context(), order.AdvanceCommand{
		OrderID: id,
		To:      order.Status(strings.ToUpper(strings.TrimSpace(req.Status))),
		ActorID: optionalID(req.ActorID),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type deliverReq struct {
	ActorID string `json:"actorId"`
}

// Deliver answers 200 with the delivered order even when crediting the
// rider failed; the failure is reported alongside.
func (h *OrderHandler) Deliver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req deliverReq
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	o, err := h.order.MarkDelivered(c.Request.Context(), order.DeliverCommand{OrderID: id, ActorID: optionalID(req.ActorID)})
	if err != nil {
		if o != nil && o.Status == order.StatusDelivered {
			_ = c.Error(err)
			writeJSON(c, http.StatusOK, gin.H{"order": o, "incentiveError": err.Error()})
			return
		}
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	actor := order.ActorUser
	if middleware.CallerRole(c) == middleware.RoleAdmin {
		actor = order.ActorAdmin
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:   id,
		Reason:    req.Reason,
		ActorType: actor,
		ActorID:   optionalID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type paymentReq struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

func (h *OrderHandler) Payment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req paymentReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.UpdatePayment(c.Request.Context(), order.PaymentCommand{
		OrderID:   id,
		Status:    order.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Reference: req.Reference,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) CleanupStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	info, err := h.order.ExpiryInfo(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (h *OrderHandler) Track(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := h.order.Track(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *OrderHandler) Candidates(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if o.Status != order.StatusPending {
		writeDomainError(c, fmt.Errorf("%w: order is %s, not awaiting a rider", order.ErrInvalidTransition, o.Status))
		return
	}
	riders, err := h.matching.Candidates(c.Request.Context(), o)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orderId": o.ID, "candidates": riders})
}

func optionalID(v string) *types.ID {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	id := types.ID(v)
	return &id
}
