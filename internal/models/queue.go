package models

import "time"

type QueueInstance struct {
	QueueID              string     `json:"queue_id"`
	OwnerID              string     `json:"owner_id"`
	BusinessName         string     `json:"business_name"`
	QueueCode            string     `json:"queue_code"`
	IndustryType         string     `json:"industry_type,omitempty"`
	Open                 bool       `json:"open"`
	Serving              int        `json:"serving"`
	NextNumber           int        `json:"next_number"`
	StrictMissedPolicy   bool       `json:"strict_missed_policy"`
	MultiCounter         bool       `json:"multi_counter"`
	EstimatedWaitEnabled bool       `json:"estimated_wait_enabled"`
	CapacityEnabled      bool       `json:"capacity_enabled"`
	AudioEnabled         bool       `json:"audio_enabled"`
	ManualControlEnabled bool       `json:"manual_control_enabled"`
	RequeueEnabled       bool       `json:"requeue_enabled"`
	DailyCapacity        *int       `json:"daily_capacity,omitempty"`
	AvgServiceSeconds    *float64   `json:"avg_service_seconds,omitempty"`
	LastResetDate        *time.Time `json:"last_reset_date,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// PeopleWaiting counts issued numbers the serving pointer has not reached.
func (q QueueInstance) PeopleWaiting() int {
	waiting := q.NextNumber - 1 - q.Serving
	if waiting < 0 {
		return 0
	}
	return waiting
}

// EstimatedWaitSeconds returns the projected wait for the next customer, or
// false when the estimate is disabled or no average service time is set.
func (q QueueInstance) EstimatedWaitSeconds() (float64, bool) {
	if !q.EstimatedWaitEnabled || q.AvgServiceSeconds == nil || *q.AvgServiceSeconds <= 0 {
		return 0, false
	}
	return float64(q.PeopleWaiting()) * *q.AvgServiceSeconds, true
}

// TokensRemaining returns how many tokens the capacity gate still allows
// today, or false when the gate is off. Capacity counts tokens ever issued
// (next_number - 1), not currently-active tokens.
func (q QueueInstance) TokensRemaining() (int, bool) {
	if !q.CapacityEnabled || q.DailyCapacity == nil {
		return 0, false
	}
	remaining := *q.DailyCapacity - (q.NextNumber - 1)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
