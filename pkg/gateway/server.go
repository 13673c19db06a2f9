package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog/log"

	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/logging"
	"github.com/erain9/batchingo/pkg/marketdata"
	"github.com/erain9/batchingo/pkg/otel"
)

// Handler serves the gateway HTTP API over the connector manager
type Handler struct {
	manager   *Manager
	startTime time.Time
}

// NewHandler creates the HTTP handler set
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager, startTime: time.Now()}
}

// NewApp builds the fiber application with middleware and routes wired
func NewApp(manager *Manager) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(logging.RequestLogger())
	app.Use(otel.TracingMiddleware())

	h := NewHandler(manager)

	api := app.Group("/api")
	api.Post("/orders", h.SubmitOrder)
	api.Delete("/orders/:id", h.CancelOrder)
	api.Get("/orders/:id", h.OrderStatus)
	api.Get("/balances", h.Balances)
	api.Get("/book/:symbol", h.Book)
	api.Get("/perf", h.Performance)
	api.Get("/perf/spans", h.RecentSpans)

	app.Get("/healthz", h.Health)

	return app
}

// statusForError maps backend and validation errors onto HTTP codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrDuplicateRequest):
		return fiber.StatusConflict
	case errors.Is(err, core.ErrQueueFull):
		return fiber.StatusTooManyRequests
	case errors.Is(err, core.ErrQueueClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrInvalidPrice),
		errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrRequestCanceled):
		return fiber.StatusBadRequest
	case errors.Is(err, core.ErrUnknownOrder),
		errors.Is(err, ErrConnectorNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, core.ErrCancelUnsupported):
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *Handler) connector(account string) (*connector.Connector, *ConnectorInfo, error) {
	if account != "" {
		return h.manager.Connector(account)
	}
	return h.manager.First()
}

// SubmitOrder handles POST /api/orders. It blocks until the order's
// batch is dispatched, so the response carries the venue reference.
func (h *Handler) SubmitOrder(c *fiber.Ctx) error {
	var req SubmitOrderRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Msg("Malformed order request")
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "invalid request: malformed JSON",
		})
	}

	conn, info, err := h.connector(req.Account)
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}
	if req.Account == "" {
		req.Account = info.Account
	}

	orderReq, err := buildOrderRequest(&req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	exchangeID, err := conn.SubmitOrder(c.UserContext(), orderReq)
	if err != nil {
		log.Warn().
			Err(err).
			Str("order_id", orderReq.ID()).
			Str("symbol", orderReq.Symbol()).
			Msg("Order submission failed")
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(SubmitOrderResponse{
		OrderID:    orderReq.ID(),
		ExchangeID: exchangeID,
		Batched:    info.Batching,
	})
}

func buildOrderRequest(req *SubmitOrderRequest) (*core.OrderRequest, error) {
	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	var side core.Side
	switch strings.ToUpper(req.Side) {
	case "BUY":
		side = core.Buy
	case "SELL":
		side = core.Sell
	default:
		return nil, errors.New("side must be BUY or SELL")
	}

	quantity, err := fpdecimal.FromString(req.Quantity)
	if err != nil {
		return nil, errors.New("quantity must be a decimal string")
	}

	switch strings.ToUpper(req.Type) {
	case "LIMIT":
		price, err := fpdecimal.FromString(req.Price)
		if err != nil {
			return nil, errors.New("price must be a decimal string")
		}
		return core.NewLimitRequest(orderID, req.Symbol, side, quantity, price, req.Account)
	case "MARKET":
		return core.NewMarketRequest(orderID, req.Symbol, side, quantity, req.Account)
	default:
		return nil, errors.New("type must be LIMIT or MARKET")
	}
}

// CancelOrder handles DELETE /api/orders/:id. The symbol travels as a
// query parameter because the exchange ID alone does not carry it.
func (h *Handler) CancelOrder(c *fiber.Ctx) error {
	exchangeID := c.Params("id")

	conn, _, err := h.connector(c.Query("account"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	if err := conn.CancelOrder(c.UserContext(), c.Query("symbol"), exchangeID); err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(CancelOrderResponse{
		ExchangeID: exchangeID,
		Canceled:   true,
	})
}

// OrderStatus handles GET /api/orders/:id
func (h *Handler) OrderStatus(c *fiber.Ctx) error {
	exchangeID := c.Params("id")

	conn, _, err := h.connector(c.Query("account"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	status, err := conn.OrderStatus(c.UserContext(), exchangeID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(OrderStatusResponse{
		ExchangeID: exchangeID,
		Status:     string(status),
	})
}

// Balances handles GET /api/balances
func (h *Handler) Balances(c *fiber.Ctx) error {
	account := c.Query("account")

	conn, info, err := h.connector(account)
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}
	if account == "" {
		account = info.Account
	}

	balances, err := conn.Balances(c.UserContext())
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	out := make(map[string]string, len(balances))
	for token, amount := range balances {
		out[token] = amount.String()
	}
	return c.Status(fiber.StatusOK).JSON(BalancesResponse{
		Account:  account,
		Balances: out,
	})
}

// Book handles GET /api/book/:symbol
func (h *Handler) Book(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	conn, _, err := h.connector(c.Query("account"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}

	book := conn.Book(symbol)
	if book == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: "no book for symbol " + symbol,
		})
	}

	resp := bookResponse(book.Snapshot())
	if mid, ok := book.MidPrice(); ok {
		resp.MidPrice = mid.String()
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func bookResponse(snap marketdata.Snapshot) BookResponse {
	resp := BookResponse{
		Symbol: snap.Symbol,
		Bids:   make([]BookLevel, 0, len(snap.Bids)),
		Asks:   make([]BookLevel, 0, len(snap.Asks)),
	}
	for _, lvl := range snap.Bids {
		resp.Bids = append(resp.Bids, BookLevel{
			Price:    lvl.Price.String(),
			Quantity: lvl.Quantity.String(),
		})
	}
	for _, lvl := range snap.Asks {
		resp.Asks = append(resp.Asks, BookLevel{
			Price:    lvl.Price.String(),
			Quantity: lvl.Quantity.String(),
		})
	}
	return resp
}

// Performance handles GET /api/perf
func (h *Handler) Performance(c *fiber.Ctx) error {
	conn, _, err := h.connector(c.Query("account"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(conn.PerformanceReport())
}

// RecentSpans handles GET /api/perf/spans
func (h *Handler) RecentSpans(c *fiber.Ctx) error {
	conn, _, err := h.connector(c.Query("account"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(conn.RecentSpans())
}

// Health handles GET /healthz
func (h *Handler) Health(c *fiber.Ctx) error {
	pending := 0
	for _, info := range h.manager.List() {
		if conn, _, err := h.manager.Connector(info.Account); err == nil {
			pending += conn.Pending()
		}
	}
	return c.Status(fiber.StatusOK).JSON(HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Connectors:    len(h.manager.List()),
		Pending:       pending,
	})
}
