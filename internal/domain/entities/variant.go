package entities

import "time"

// VariantStatus marks whether a variant receives traffic
type VariantStatus string

const (
	VariantStatusActive VariantStatus = "active"
	VariantStatusPaused VariantStatus = "paused"
)

// ExperimentVariant is one arm of an experiment, including the control.
// Counters only grow and are written exclusively by the event recorder.
type ExperimentVariant struct {
	ID                     string        `json:"id" db:"id"`
	ExperimentID           string        `json:"experiment_id" db:"experiment_id"`
	Name                   string        `json:"name" db:"name"`
	Description            string        `json:"description,omitempty" db:"description"`
	IsControl              bool          `json:"is_control" db:"is_control"`
	TrafficPercentage      float64       `json:"traffic_percentage" db:"traffic_percentage"`
	Config                 Attributes    `json:"config" db:"config"`
	Impressions            int64         `json:"impressions" db:"impressions"`
	Clicks                 int64         `json:"clicks" db:"clicks"`
	Conversions            int64         `json:"conversions" db:"conversions"`
	Revenue                float64       `json:"revenue" db:"revenue"`
	ConversionRate         float64       `json:"conversion_rate" db:"conversion_rate"`
	ImprovementOverControl *float64      `json:"improvement_over_control,omitempty" db:"improvement_over_control"`
	ConfidenceIntervalLow  *float64      `json:"confidence_interval_lower,omitempty" db:"confidence_interval_lower"`
	ConfidenceIntervalHigh *float64      `json:"confidence_interval_upper,omitempty" db:"confidence_interval_upper"`
	Status                 VariantStatus `json:"status" db:"status"`
	CreatedAt              time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the variant takes part in allocation.
func (v *ExperimentVariant) IsActive() bool {
	return v.Status == VariantStatusActive
}

// RecomputeConversionRate sets ConversionRate to conversions/impressions, or 0.
func (v *ExperimentVariant) RecomputeConversionRate() {
	v.ConversionRate = Rate(v.Conversions, v.Impressions)
}

// ClickThroughRate returns clicks/impressions, or 0.
func (v *ExperimentVariant) ClickThroughRate() float64 {
	return Rate(v.Clicks, v.Impressions)
}

// Apply adds delta to the counters and refreshes the conversion rate.
func (v *ExperimentVariant) Apply(delta CounterDelta) {
	v.Impressions += delta.Impressions
	v.Clicks += delta.Clicks
	v.Conversions += delta.Conversions
	v.Revenue += delta.Revenue
	v.RecomputeConversionRate()
}

// CounterDelta is an increment applied atomically to a variant's counters.
type CounterDelta struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	Revenue     float64
}

// IsZero reports whether the delta changes nothing.
func (d CounterDelta) IsZero() bool {
	return d.Impressions == 0 && d.Clicks == 0 && d.Conversions == 0 && d.Revenue == 0
}

// Rate divides num by den, returning 0 when den is not positive.
func Rate(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
