package credit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carbonex/carbonex-api/internal/domain/wallet"
	"github.com/carbonex/carbonex-api/internal/middleware"
	"github.com/carbonex/carbonex-api/internal/pkg/response"
	"github.com/carbonex/carbonex-api/internal/pkg/validator"
)

type Handler struct {
	svc  *Service
	feed *Feed
}

func NewHandler(svc *Service, feed *Feed) *Handler {
	return &Handler{svc: svc, feed: feed}
}

type batchRequest struct {
	Items []Draft `json:"items" validate:"required,min=1,dive"`
}

type priceRequest struct {
	PricePerUnit int64 `json:"price_per_unit"`
}

type typeRequest struct {
	CreditType string `json:"credit_type"`
}

type purchaseRequest struct {
	Amount  int64 `json:"amount"`
	Payment int64 `json:"payment"`
}

type transferRequest struct {
	To uuid.UUID `json:"to"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccountID(r.Context())
	if caller == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req Draft
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	id, err := h.svc.Create(r.Context(), caller, req)
	if err != nil {
		respondError(w, err)
		return
	}
	response.Created(w, map[string]interface{}{"id": id})
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccountID(r.Context())
	if caller == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	ids, err := h.svc.CreateBatch(r.Context(), caller, req.Items)
	if err != nil {
		respondError(w, err)
		return
	}
	response.Created(w, map[string]interface{}{"ids": ids})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := creditID(w, r)
	if !ok {
		return
	}

	c, err := h.svc.Get(id)
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, c)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := creditID(w, r)
	if !ok {
		return
	}

	s, err := h.svc.GetSummary(id)
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, s)
}

// List serves id queries: all ids by default, otherwise filtered by
// owner, type and/or listing state. Results are always ascending.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerParam := q.Get("owner")
	typeParam := q.Get("type")
	listedParam := q.Get("listed")

	var owner uuid.UUID
	if ownerParam != "" {
		parsed, err := uuid.Parse(ownerParam)
		if err != nil {
			response.BadRequest(w, "invalid owner id")
			return
		}
		owner = parsed
	}

	var ids []int64
	switch {
	case ownerParam != "" && typeParam != "":
		ids = h.svc.IDsByOwnerAndType(owner, typeParam)
	case ownerParam != "":
		ids = h.svc.IDsByOwner(owner)
	case typeParam != "":
		ids = h.svc.IDsByType(typeParam)
	case listedParam == "true":
		ids = h.svc.ListedIDs()
	default:
		ids = h.svc.AllIDs()
	}

	response.OK(w, map[string]interface{}{"ids": ids})
}

func (h *Handler) ListedDetails(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.svc.ListedDetails())
}

func (h *Handler) OwnerValue(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(chi.URLParam(r, "ownerID"))
	if err != nil {
		response.BadRequest(w, "invalid owner id")
		return
	}
	response.OK(w, map[string]interface{}{"total_value": h.svc.TotalValueByOwner(owner)})
}

func (h *Handler) ListedValue(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{"total_value": h.svc.TotalListedValue()})
}

func (h *Handler) Relist(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req priceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.Relist(r.Context(), caller, id, req.PricePerUnit)
	})
}

func (h *Handler) Delist(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, _ []byte) error {
		return h.svc.Delist(r.Context(), caller, id)
	})
}

func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req priceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.UpdatePrice(r.Context(), caller, id, req.PricePerUnit)
	})
}

func (h *Handler) UpdateType(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req typeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.UpdateType(r.Context(), caller, id, req.CreditType)
	})
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req purchaseRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.Purchase(r.Context(), caller, id, req.Amount, req.Payment)
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req transferRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.TransferOwnership(r.Context(), caller, id, req.To)
	})
}

func (h *Handler) Burn(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req amountRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.Burn(r.Context(), caller, id, req.Amount)
	})
}

func (h *Handler) Increase(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(caller uuid.UUID, id int64, body []byte) error {
		var req amountRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errBadBody
		}
		return h.svc.IncreaseAmount(r.Context(), caller, id, req.Amount)
	})
}

// Admin surface

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Pause(middleware.GetAccountID(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"paused": true})
}

func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unpause(middleware.GetAccountID(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"paused": false})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := h.svc.Withdraw(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"amount": amount})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{"paused": h.svc.Paused()})
}

// mutate wraps the shared skeleton of per-credit mutations: caller from
// context, id from the path, body handed to the operation.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(caller uuid.UUID, id int64, body []byte) error) {
	caller := middleware.GetAccountID(r.Context())
	if caller == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, ok := creditID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	defer r.Body.Close()
	if len(body) == 0 {
		body = []byte("{}")
	}

	if err := fn(caller, id, body); err != nil {
		respondError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"id": id})
}

var errBadBody = errors.New("invalid JSON body")

func creditID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid credit id")
		return 0, false
	}
	return id, true
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadBody):
		response.BadRequest(w, "invalid JSON body")
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "credit not found")
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotAdmin):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidRecipient),
		errors.Is(err, ErrEmptyBatch):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotListed), errors.Is(err, ErrAlreadyListed),
		errors.Is(err, ErrSelfPurchase), errors.Is(err, ErrDepleted),
		errors.Is(err, ErrPaused):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrInsufficientPayment), errors.Is(err, ErrInsufficientQuantity),
		errors.Is(err, wallet.ErrInsufficientFunds):
		response.Conflict(w, err.Error())
	default:
		response.InternalError(w)
	}
}

// Routes mounts the credit marketplace endpoints. Queries are public;
// mutations require an authenticated caller.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/listed/details", h.ListedDetails)
	r.Get("/value/owner/{ownerID}", h.OwnerValue)
	r.Get("/value/listed", h.ListedValue)
	r.Get("/events/ws", h.feed.Serve)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/summary", h.GetSummary)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Create)
		r.Post("/batch", h.CreateBatch)
		r.Post("/{id}/relist", h.Relist)
		r.Post("/{id}/delist", h.Delist)
		r.Post("/{id}/price", h.UpdatePrice)
		r.Post("/{id}/type", h.UpdateType)
		r.Post("/{id}/purchase", h.Purchase)
		r.Post("/{id}/transfer", h.Transfer)
		r.Post("/{id}/burn", h.Burn)
		r.Post("/{id}/increase", h.Increase)
	})

	return r
}

// AdminRoutes mounts the administrative surface.
func (h *Handler) AdminRoutes(authMiddleware, adminMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(adminMiddleware)
	r.Get("/status", h.Status)
	r.Post("/pause", h.Pause)
	r.Post("/unpause", h.Unpause)
	r.Post("/withdraw", h.Withdraw)
	return r
}
