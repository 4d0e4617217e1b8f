package jobs

import (
	"context"
	"fmt"
	"strings"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/formbridge/formbridge/core"
)

const (
	JobIDCredentialRefresh = core.JobIDCredentialRefresh
	JobIDPendingAuthSweep  = core.JobIDPendingAuthSweep
)

// DedupDrop drops a message whose idempotency key is already queued.
const DedupDrop = "drop"

// ToExecutionMessage maps the core queue contract onto go-job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

// FromExecutionMessage maps a go-job message back into the core contract.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// Enqueuer adapts a go-job queue to core.JobEnqueuer.
type Enqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer}
}

func (e *Enqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("jobs: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("jobs: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("jobs: job id is required")
	}
	return e.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// CredentialRefreshMessage builds the repair message enqueued when a refresh
// fails at request time. The idempotency key collapses repeat failures for
// the same subject into one queued attempt.
func CredentialRefreshMessage(subjectID string) *core.JobExecutionMessage {
	subjectID = strings.TrimSpace(subjectID)
	return &core.JobExecutionMessage{
		JobID: JobIDCredentialRefresh,
		Parameters: map[string]any{
			"subject_id": subjectID,
		},
		IdempotencyKey: JobIDCredentialRefresh + ":" + subjectID,
		DedupPolicy:    DedupDrop,
	}
}

// PendingAuthSweepMessage builds the periodic sweep message that purges
// expired pending authorizations from the store.
func PendingAuthSweepMessage() *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          JobIDPendingAuthSweep,
		Parameters:     map[string]any{},
		IdempotencyKey: JobIDPendingAuthSweep,
		DedupPolicy:    DedupDrop,
	}
}

func copyParameters(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.JobEnqueuer = (*Enqueuer)(nil)
