package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/formbridge/formbridge/core"
)

// RefreshService is the slice of the core service the repair runner drives.
type RefreshService interface {
	ValidAccessToken(ctx context.Context, subjectID string) (string, error)
}

// Runner executes queued repair messages. It is handed to the go-job worker
// as the handler for the formbridge job ids.
type Runner struct {
	service     RefreshService
	pendingAuth core.PendingAuthStore
	logger      core.Logger
	nowFn       func() time.Time
}

type RunnerOption func(*Runner)

func WithLogger(logger core.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(nowFn func() time.Time) RunnerOption {
	return func(r *Runner) {
		if nowFn != nil {
			r.nowFn = nowFn
		}
	}
}

func NewRunner(service RefreshService, pendingAuth core.PendingAuthStore, opts ...RunnerOption) (*Runner, error) {
	if service == nil {
		return nil, fmt.Errorf("jobs: refresh service is required")
	}
	runner := &Runner{
		service:     service,
		pendingAuth: pendingAuth,
		logger:      glog.Nop(),
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(runner)
	}
	return runner, nil
}

// Run dispatches one queued message by job id. Unknown job ids fail loudly
// so a misrouted queue binding is caught instead of silently acked.
func (r *Runner) Run(ctx context.Context, msg *core.JobExecutionMessage) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("jobs: runner is not configured")
	}
	if msg == nil {
		return fmt.Errorf("jobs: execution message is required")
	}

	switch strings.TrimSpace(msg.JobID) {
	case JobIDCredentialRefresh:
		return r.runCredentialRefresh(ctx, msg)
	case JobIDPendingAuthSweep:
		return r.runPendingAuthSweep(ctx)
	default:
		return fmt.Errorf("jobs: unknown job id %q", msg.JobID)
	}
}

func (r *Runner) runCredentialRefresh(ctx context.Context, msg *core.JobExecutionMessage) error {
	subjectID, _ := msg.Parameters["subject_id"].(string)
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("jobs: credential refresh requires a subject_id parameter")
	}
	if _, err := r.service.ValidAccessToken(ctx, subjectID); err != nil {
		r.logger.Warn("queued credential refresh failed", "subject_id", subjectID, "error", err)
		return err
	}
	r.logger.Info("queued credential refresh succeeded", "subject_id", subjectID)
	return nil
}

func (r *Runner) runPendingAuthSweep(ctx context.Context) error {
	if r.pendingAuth == nil {
		return fmt.Errorf("jobs: pending authorization store is not configured")
	}
	purged := r.pendingAuth.PurgeExpired(ctx, r.nowFn())
	if purged > 0 {
		r.logger.Info("purged expired pending authorizations", "count", purged)
	}
	return nil
}
