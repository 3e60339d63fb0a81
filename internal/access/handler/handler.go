package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"jitaccess/internal/access/models"
	"jitaccess/internal/access/service"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
	"jitaccess/pkg/platform/httputil"
	request "jitaccess/pkg/platform/middleware/request"
	"jitaccess/pkg/requestcontext"
)

// Service defines the access request operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, in service.CreateRequest) (id.RequestID, error)
	Decide(ctx context.Context, in service.DecideRequest) (*models.AccessRequest, error)
	Describe(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error)
	List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error)
	RetryGrant(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error)
}

// Handler handles access request endpoints. Callers must run the principal
// middleware in front of Register's routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the access routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/access/requests", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleDescribe)
		r.Post("/{id}/decision", h.handleDecide)
		r.Post("/{id}/grant/retry", h.handleRetryGrant)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	requester := req.Requester
	if requester == "" {
		requester = requestcontext.Principal(ctx).String()
	}

	reqID, err := h.svc.Create(ctx, service.CreateRequest{
		Requester:    requester,
		ActionName:   req.ActionName,
		ActionParams: req.ActionParams,
		RequestedTTL: req.TTL,
		Reason:       req.Reason,
	})
	if err != nil {
		h.fail(ctx, w, "create access request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createResponse{ID: reqID.String()})
}

func (h *Handler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.svc.Describe(ctx, reqID)
	if err != nil {
		h.fail(ctx, w, "describe access request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reqs, err := h.svc.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "list access requests", err)
		return
	}
	out := listResponse{Requests: make([]requestResponse, 0, len(reqs))}
	for _, req := range reqs {
		out.Requests = append(out.Requests, toRequestResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[decisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.Decide(ctx, service.DecideRequest{
		ID:          reqID,
		Action:      req.action,
		Approver:    requestcontext.Principal(ctx),
		OverrideTTL: req.TTL,
	})
	if err != nil {
		h.fail(ctx, w, "decide access request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(result))
}

func (h *Handler) handleRetryGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.svc.RetryGrant(ctx, reqID)
	if err != nil {
		h.fail(ctx, w, "retry grant", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(result))
}

// fail logs at a level matching the error class and writes the response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	requestID := request.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeNotFound, dErrors.CodeAlreadyDecided, dErrors.CodeBadRequest:
		h.logger.InfoContext(ctx, op+" rejected",
			"request_id", requestID,
			"error", err,
		)
	default:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
