package workflow

import "time"

// Order is the dispatch order a workflow's waiting set observes.
type Order string

const (
	OrderFIFO Order = "fifo"
	OrderLIFO Order = "lifo"
)

// Deduplication configures job-level deduplication by a caller-supplied
// id, valid for ttl.
type Deduplication struct {
	TTL time.Duration
	ID  string
}

// JobOptions are the per-job queueing options. Defaults flow from
// client to workflow to job and are merged deep, with per-job values
// winning.
type JobOptions struct {
	Retries     *int
	Delay       *time.Duration
	Priority    *int
	Order       *Order
	Dedup       *Deduplication
	UniqueJobID *string
}

// MergeJobOptions deep-merges layers in increasing precedence order
// (typically client defaults, then workflow defaults, then a per-call
// override). A nil pointer field in a later layer leaves the earlier
// layer's value untouched; a non-nil field overwrites it outright. The
// merge is computed eagerly and the inputs are never mutated.
func MergeJobOptions(layers ...JobOptions) JobOptions {
	var out JobOptions
	for _, l := range layers {
		if l.Retries != nil {
			out.Retries = l.Retries
		}
		if l.Delay != nil {
			out.Delay = l.Delay
		}
		if l.Priority != nil {
			out.Priority = l.Priority
		}
		if l.Order != nil {
			out.Order = l.Order
		}
		if l.Dedup != nil {
			out.Dedup = l.Dedup
		}
		if l.UniqueJobID != nil {
			out.UniqueJobID = l.UniqueJobID
		}
	}
	return out
}

// DefaultJobOptions returns the engine's baked-in fallback layer, applied
// beneath any client/workflow/job-level configuration.
func DefaultJobOptions() JobOptions {
	retries := 3
	priority := 0
	order := OrderFIFO
	return JobOptions{
		Retries:  &retries,
		Priority: &priority,
		Order:    &order,
	}
}
