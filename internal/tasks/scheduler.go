package tasks

import "context"

// ScheduleBuildPyramid implements imagemanager.Scheduler: it submits a
// build_pyramid task, silently treating an already-in-flight duplicate
// as success (§4.5: "multiple concurrent requests elect a single
// scheduler").
func (q *Queue) ScheduleBuildPyramid(ctx context.Context, sourceID int64, source, format string) error {
	_, err := q.Submit(ctx, "", "pyramid:"+source, FuncBuildPyramid, BuildPyramidParams{
		SourceID: sourceID, Source: source, Format: format,
	}, PriorityLow, 3600)
	if err == ErrAlreadySubmitted {
		return nil
	}
	return err
}
