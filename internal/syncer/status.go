package syncer

import (
	"time"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
)

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	Domain   domain.Domain `json:"domain"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Deferred int           `json:"deferred"`
}

// Status is the externally visible state of one domain worker.
type Status struct {
	Domain       domain.Domain `json:"domain"`
	Running      bool          `json:"running"`
	LastSyncTime *time.Time    `json:"last_sync_time,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastCycle    *CycleResult  `json:"last_cycle,omitempty"`
	Pending      int           `json:"pending"`
	Failed       int           `json:"failed"`
}

func (s Status) clone() Status {
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		s.LastSyncTime = &t
	}
	if s.LastCycle != nil {
		c := *s.LastCycle
		s.LastCycle = &c
	}
	return s
}
