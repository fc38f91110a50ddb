package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SignificanceStatus separates "no data yet" from a computed verdict.
type SignificanceStatus string

const (
	SignificanceComputed         SignificanceStatus = "computed"
	SignificanceInsufficientData SignificanceStatus = "insufficient_data"
)

// ConfidenceInterval bounds the treatment rate estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// VariantSignificance is the z-test outcome of one treatment against control.
type VariantSignificance struct {
	VariantID          string             `json:"variant_id"`
	Status             SignificanceStatus `json:"status"`
	PValue             float64            `json:"p_value"`
	ZScore             float64            `json:"z_score"`
	IsSignificant      bool               `json:"is_significant"`
	ImprovementPct     float64            `json:"improvement_pct"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
}

// SignificanceReport is the per-variant verdict for an experiment plus the
// chosen winner, if any.
type SignificanceReport struct {
	ConfidenceLevel float64                         `json:"confidence_level"`
	ControlID       string                          `json:"control_variant_id"`
	Variants        map[string]*VariantSignificance `json:"variants"`
	WinnerID        *string                         `json:"winner_variant_id,omitempty"`
	ComputedAt      time.Time                       `json:"computed_at"`
}

// HasSignificantResult reports whether any variant reached significance.
func (r *SignificanceReport) HasSignificantResult() bool {
	if r == nil {
		return false
	}
	for _, v := range r.Variants {
		if v.IsSignificant {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (r *SignificanceReport) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *SignificanceReport) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(t, r)
	case string:
		return json.Unmarshal([]byte(t), r)
	default:
		return fmt.Errorf("cannot scan %T into SignificanceReport", src)
	}
}
