package handler

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	dErrors "jitaccess/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

type createRequest struct {
	Requester    string          `json:"requester,omitempty"`
	ActionName   string          `json:"action_name"`
	ActionParams json.RawMessage `json:"action_params,omitempty"`
	TTL          string          `json:"ttl"`
	Reason       string          `json:"reason,omitempty"`
}

// Validate trims input and checks presence. Grammar checks live in the service.
func (r *createRequest) Validate() error {
	r.Requester = strings.TrimSpace(r.Requester)
	r.ActionName = strings.TrimSpace(r.ActionName)
	r.TTL = strings.TrimSpace(r.TTL)
	r.Reason = strings.TrimSpace(r.Reason)
	if r.ActionName == "" {
		return dErrors.New(dErrors.CodeValidation, "action_name is required")
	}
	if r.TTL == "" {
		return dErrors.New(dErrors.CodeValidation, "ttl is required")
	}
	return nil
}

type decisionRequest struct {
	Action string `json:"action"`
	TTL    string `json:"ttl,omitempty"`

	action models.DecisionAction
}

func (r *decisionRequest) Validate() error {
	action, err := models.ParseDecisionAction(r.Action)
	if err != nil {
		return err
	}
	r.action = action
	r.TTL = strings.TrimSpace(r.TTL)
	if r.TTL != "" && action == models.DecisionReject {
		return dErrors.New(dErrors.CodeValidation, "ttl is only accepted when approving")
	}
	return nil
}

// parseFilter reads the list query. Dates are whole UTC days and both ends
// include their day; created_before becomes an exclusive bound at the next
// midnight.
func parseFilter(q url.Values) (models.Filter, error) {
	var f models.Filter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("grant_status")); raw != "" {
		gs, err := models.ParseGrantStatus(raw)
		if err != nil {
			return f, err
		}
		f.GrantStatus = &gs
	}
	f.ActionName = strings.TrimSpace(q.Get("action_name"))
	if raw := strings.TrimSpace(q.Get("requester")); raw != "" {
		p, err := id.ParsePrincipal(raw)
		if err != nil {
			return f, err
		}
		f.Requester = p
	}
	var err error
	if f.CreatedAfter, err = parseDate(q.Get("created_after"), "created_after"); err != nil {
		return f, err
	}
	lastDay, err := parseDate(q.Get("created_before"), "created_before")
	if err != nil {
		return f, err
	}
	if !lastDay.IsZero() {
		if !f.CreatedAfter.IsZero() && f.CreatedAfter.After(lastDay) {
			return f, dErrors.New(dErrors.CodeValidation, "created_after must not be after created_before")
		}
		f.CreatedBefore = lastDay.AddDate(0, 0, 1)
	}
	return f, nil
}

func parseDate(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be a date in YYYY-MM-DD form")
	}
	return t, nil
}
