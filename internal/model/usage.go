package model

import (
	"time"
)

// UsagePeriod is the granularity of a usage counter row.
type UsagePeriod string

const (
	UsageHourly UsagePeriod = "hourly"
	UsageDaily  UsagePeriod = "daily"
)

// UsageCounter is one rollup row: hourly rows are written by the engine
// and folded into daily rows by the aggregator.
type UsageCounter struct {
	CompanyID   string      `json:"company_id"`
	Period      UsagePeriod `json:"period"`
	PeriodStart time.Time   `json:"period_start"`

	AIResponses int `json:"ai_responses"`
	Messages    int `json:"messages"`
}
