package handler

import (
	"encoding/json"
	"time"

	"jitaccess/internal/access/models"
)

type createResponse struct {
	ID string `json:"id"`
}

type grantResponse struct {
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type requestResponse struct {
	ID           string          `json:"id"`
	Requester    string          `json:"requester"`
	ActionName   string          `json:"action_name"`
	ActionParams json.RawMessage `json:"action_params"`
	RequestedTTL string          `json:"requested_ttl"`
	GrantedTTL   string          `json:"granted_ttl,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Status       string          `json:"status"`
	Approver     string          `json:"approver,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	Grant        *grantResponse  `json:"grant,omitempty"`
}

type listResponse struct {
	Requests []requestResponse `json:"requests"`
}

func toRequestResponse(r *models.AccessRequest) requestResponse {
	out := requestResponse{
		ID:           r.ID.String(),
		Requester:    r.Requester.String(),
		ActionName:   r.ActionName,
		ActionParams: r.ActionParams,
		RequestedTTL: r.RequestedTTL.String(),
		GrantedTTL:   r.GrantedTTL.String(),
		Reason:       r.Reason,
		Status:       r.Status.String(),
		Approver:     r.Approver.String(),
		CreatedAt:    r.CreatedAt,
		DecidedAt:    r.DecidedAt,
	}
	if len(out.ActionParams) == 0 {
		out.ActionParams = json.RawMessage(`{}`)
	}
	if r.GrantStatus != "" && r.GrantStatus != models.GrantStatusNone {
		out.Grant = &grantResponse{
			Status:    r.GrantStatus.String(),
			Attempts:  r.GrantAttempts,
			Error:     r.GrantError,
			UpdatedAt: r.GrantUpdatedAt,
		}
	}
	return out
}
