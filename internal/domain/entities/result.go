package entities

import "time"

// ExperimentResult is the daily rollup for one variant. Spend is sourced
// outside the engine and is never derived from events.
type ExperimentResult struct {
	ExperimentID   string    `json:"experiment_id" db:"experiment_id"`
	VariantID      string    `json:"variant_id" db:"variant_id"`
	Date           time.Time `json:"date" db:"date"`
	Impressions    int64     `json:"impressions" db:"impressions"`
	Clicks         int64     `json:"clicks" db:"clicks"`
	Conversions    int64     `json:"conversions" db:"conversions"`
	Spend          float64   `json:"spend" db:"spend"`
	Revenue        float64   `json:"revenue" db:"revenue"`
	ConversionRate float64   `json:"conversion_rate" db:"conversion_rate"`
	ROI            float64   `json:"roi" db:"roi"`
}

// Recompute refreshes the derived rates.
func (r *ExperimentResult) Recompute() {
	r.ConversionRate = Rate(r.Conversions, r.Impressions)
	if r.Spend > 0 {
		r.ROI = (r.Revenue - r.Spend) / r.Spend
	} else {
		r.ROI = 0
	}
}
