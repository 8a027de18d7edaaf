package output

import (
	"context"
	"fmt"

	"odatacheck/internal/rules"
)

// ResultRecorder persists results for a job.
type ResultRecorder interface {
	SaveResult(ctx context.Context, jobID string, r rules.Result) error
}

// StoreSink persists every rule result as it arrives.
type StoreSink struct {
	ctx   context.Context
	rec   ResultRecorder
	jobID string
}

func NewStoreSink(ctx context.Context, rec ResultRecorder, jobID string) (*StoreSink, error) {
	if rec == nil {
		return nil, fmt.Errorf("result recorder must not be nil")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job id required")
	}
	return &StoreSink{ctx: ctx, rec: rec, jobID: jobID}, nil
}

func (s *StoreSink) Write(v any) error {
	r, ok := v.(rules.Result)
	if !ok {
		return nil
	}
	return s.rec.SaveResult(s.ctx, s.jobID, r)
}

func (s *StoreSink) Close() error { return nil }
