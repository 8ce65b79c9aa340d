package domain

import "time"

// CheckStats summarizes one polling cycle.
type CheckStats struct {
	CycleID            string
	Batches            int
	SourcesChecked     int
	SourcesSkipped     int
	ItemsFound         int
	ObligationsCreated int
	Duration           time.Duration
}

// CleanStats summarizes one garbage-collection cycle.
type CleanStats struct {
	CycleID             string
	RemovedDestinations int64
	RemovedSources      int64
	RemovedItems        int64
	Duration            time.Duration
}

type Variant string

const (
	VariantText  Variant = "text"
	VariantImage Variant = "image"
)

// DeliveryRecord is emitted once per target that received an item.
type DeliveryRecord struct {
	ID            string    `json:"id"`
	DestinationID string    `json:"destination_id"`
	TargetID      string    `json:"target_id"`
	ItemID        string    `json:"item_id"`
	SourceID      string    `json:"source_id"`
	Variant       Variant   `json:"variant"`
	DeliveredAt   time.Time `json:"delivered_at"`
}

// Receipt is what a transport returns for a message it put on the wire.
type Receipt struct {
	TargetID  string
	MessageID int
	ImageID   string
}

type CycleKind string

const (
	CycleCheck CycleKind = "check"
	CycleClean CycleKind = "clean"
)

// CycleSummary is the observability record of a finished check or clean cycle.
type CycleSummary struct {
	CycleID             string    `json:"cycle_id"`
	Kind                CycleKind `json:"kind"`
	SourcesChecked      int       `json:"sources_checked,omitempty"`
	SourcesSkipped      int       `json:"sources_skipped,omitempty"`
	ItemsFound          int       `json:"items_found,omitempty"`
	ObligationsCreated  int       `json:"obligations_created,omitempty"`
	RemovedDestinations int64     `json:"removed_destinations,omitempty"`
	RemovedSources      int64     `json:"removed_sources,omitempty"`
	RemovedItems        int64     `json:"removed_items,omitempty"`
	DurationMS          int64     `json:"duration_ms"`
	FinishedAt          time.Time `json:"finished_at"`
}

func (s *CheckStats) Summary(finishedAt time.Time) *CycleSummary {
	return &CycleSummary{
		CycleID:            s.CycleID,
		Kind:               CycleCheck,
		SourcesChecked:     s.SourcesChecked,
		SourcesSkipped:     s.SourcesSkipped,
		ItemsFound:         s.ItemsFound,
		ObligationsCreated: s.ObligationsCreated,
		DurationMS:         s.Duration.Milliseconds(),
		FinishedAt:         finishedAt,
	}
}

func (s *CleanStats) Summary(finishedAt time.Time) *CycleSummary {
	return &CycleSummary{
		CycleID:             s.CycleID,
		Kind:                CycleClean,
		RemovedDestinations: s.RemovedDestinations,
		RemovedSources:      s.RemovedSources,
		RemovedItems:        s.RemovedItems,
		DurationMS:          s.Duration.Milliseconds(),
		FinishedAt:          finishedAt,
	}
}
