// Package pipeline holds the Hub value, the per-event result type, and the
// PipelineRunner that drives an event through every processing stage.
package pipeline

import "fmt"

// Outcome classifies how a single event's run through the pipeline ended.
type Outcome int

const (
	Produced Outcome = iota
	Dropped
	Retry
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Produced:
		return "produced"
	case Dropped:
		return "dropped"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DropCause enumerates every drop/warning cause named in the spec's error
// taxonomy.
type DropCause string

const (
	CauseInvalidToken                   DropCause = "invalid_token"
	CauseMalformed                      DropCause = "malformed"
	CauseTransformationDropped          DropCause = "transformation_dropped"
	CauseCookielessFiltered             DropCause = "cookieless_filtered"
	CauseInvalidEventWhenPersonDisabled DropCause = "invalid_event_when_process_person_profile_is_false"
	CauseMessageSizeTooLarge            DropCause = "message_size_too_large"
	CauseInvalidEventUUID               DropCause = "invalid_event_uuid"
	CauseInvalidHeatmapData             DropCause = "invalid_heatmap_data"
	CauseInvalidProcessPersonProfile    DropCause = "invalid_process_person_profile"
	CauseEventTimestampInFuture         DropCause = "event_timestamp_in_future"
	CauseIgnoredInvalidTimestamp        DropCause = "ignored_invalid_timestamp"
)

// dlqExempt causes are never sent to the dead-letter queue even when routed
// through the retry/fatal path upstream of a drop (they are pure drops).
var dlqExempt = map[DropCause]bool{
	CauseInvalidToken:                   true,
	CauseMalformed:                      true,
	CauseTransformationDropped:          true,
	CauseCookielessFiltered:             true,
	CauseInvalidEventWhenPersonDisabled: true,
	CauseMessageSizeTooLarge:            true,
}

// Result is the closed sum type every pipeline stage and the runner settle
// on, replacing the source's exceptions-as-control-flow (EventDroppedError).
// Exactly one of the accessor methods is meaningful, gated by Outcome.
type Result struct {
	outcome        Outcome
	cause          DropCause
	doNotSendToDLQ bool
	details        map[string]string
	warning        *string
	err            error
}

// ProducedResult marks an event as successfully emitted downstream.
func ProducedResult() Result {
	return Result{outcome: Produced}
}

// DroppedResult drops an event with a counted cause. doNotSendToDLQ is
// forced true for causes the taxonomy defines as pure drops.
func DroppedResult(cause DropCause, details map[string]string) Result {
	return Result{
		outcome:        Dropped,
		cause:          cause,
		doNotSendToDLQ: dlqExempt[cause],
		details:        details,
	}
}

// DroppedWithWarning is a drop that additionally queues an ingestion warning
// record for operator visibility.
func DroppedWithWarning(cause DropCause, warningType string, details map[string]string) Result {
	r := DroppedResult(cause, details)
	r.warning = &warningType
	return r
}

// RetryResult signals a retryable failure; the consumer retries the batch.
func RetryResult(err error) Result {
	return Result{outcome: Retry, err: err}
}

// FatalResult signals an unrecoverable failure; the worker shuts down.
func FatalResult(err error) Result {
	return Result{outcome: Fatal, err: err}
}

func (r Result) Outcome() Outcome             { return r.outcome }
func (r Result) Cause() DropCause             { return r.cause }
func (r Result) DoNotSendToDLQ() bool         { return r.doNotSendToDLQ }
func (r Result) Details() map[string]string   { return r.details }
func (r Result) Warning() (string, bool) {
	if r.warning == nil {
		return "", false
	}
	return *r.warning, true
}
func (r Result) Err() error { return r.err }

func (r Result) Error() string {
	switch r.outcome {
	case Dropped:
		return fmt.Sprintf("dropped: %s", r.cause)
	case Retry:
		return fmt.Sprintf("retry: %v", r.err)
	case Fatal:
		return fmt.Sprintf("fatal: %v", r.err)
	default:
		return "produced"
	}
}
