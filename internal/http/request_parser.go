package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ricorrenti/internal/core"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// RuleRequest is the JSON payload of POST /rules. Amount is a decimal string
// ("12.50" or "12,50").
type RuleRequest struct {
	ID               string     `json:"id,omitempty"`
	Owner            string     `json:"owner"`
	Description      string     `json:"description"`
	Amount           string     `json:"amount"`
	CategoryRef      string     `json:"category_ref,omitempty"`
	PaymentMethodRef string     `json:"payment_method_ref,omitempty"`
	Frequency        string     `json:"frequency"`
	AnchorWeekday    *int       `json:"anchor_weekday,omitempty"`
	AnchorDay        *int       `json:"anchor_day,omitempty"`
	StartDate        core.Date  `json:"start_date"`
	EndDate          *core.Date `json:"end_date,omitempty"`
	Active           *bool      `json:"active,omitempty"`
}

// ToRule converts the request into a rule. Rules are active unless the request
// says otherwise.
func (req RuleRequest) ToRule() (core.RecurrenceRule, error) {
	schedule, err := core.ScheduleFromFields(req.Frequency, req.AnchorWeekday, req.AnchorDay)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	amount, err := core.ParseMoney(req.Amount)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("amount %q: %w", req.Amount, err)
	}

	rule := core.RecurrenceRule{
		ID:               strings.TrimSpace(req.ID),
		Owner:            sanitizeInput(req.Owner),
		Amount:           amount,
		Description:      sanitizeInput(req.Description),
		CategoryRef:      sanitizeInput(req.CategoryRef),
		PaymentMethodRef: sanitizeInput(req.PaymentMethodRef),
		Schedule:         schedule,
		StartDate:        req.StartDate,
		Active:           true,
	}
	if req.EndDate != nil {
		rule.EndDate = *req.EndDate
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	return rule, nil
}

// EndDateRequest is the JSON payload of PUT /rules/{id}/end-date.
type EndDateRequest struct {
	EndDate core.Date `json:"end_date"`
}

// decodeJSON decodes a bounded JSON body into v, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode request body: unexpected data after JSON object")
	}
	return nil
}

// parseNow reads the optional "now" query parameter, either a date
// (YYYY-MM-DD, taken at noon in loc) or an RFC 3339 timestamp. Without it the
// fallback is used.
func parseNow(r *http.Request, fallback time.Time, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get("now"))
	if v == "" {
		return fallback.In(loc), nil
	}
	if d, err := core.ParseDate(v); err == nil {
		return time.Date(d.Year(), time.Month(d.Month()), d.Day(), 12, 0, 0, 0, loc), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid now %q: want YYYY-MM-DD or RFC 3339", v)
	}
	return t.In(loc), nil
}
