package tasks

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Housekeeper runs an in-process scheduler inside each web worker that
// periodically enqueues the "delete old temp files" task (§4.6
// "Housekeeping", interval ~24h). Because the queue deduplicates by
// (function, params), concurrent web workers never create duplicates —
// grounded on github.com/robfig/cron/v3 for the schedule itself.
type Housekeeper struct {
	queue *Queue
	log   *logrus.Entry
	c     *cron.Cron
}

func NewHousekeeper(q *Queue, log *logrus.Entry) *Housekeeper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Housekeeper{queue: q, log: log, c: cron.New()}
}

// Start schedules the periodic enqueue and begins running it in the
// background. spec follows cron syntax, e.g. "0 3 * * *" for 3am daily.
func (h *Housekeeper) Start(spec string) error {
	_, err := h.c.AddFunc(spec, func() {
		ctx := context.Background()
		if _, err := h.queue.Submit(ctx, "", "delete_temp_files", FuncDeleteTempFiles, DeleteTempFilesParams{}, PriorityLow, 3600); err != nil && err != ErrAlreadySubmitted {
			h.log.WithError(err).Warn("housekeeping: enqueue failed")
		}
	})
	if err != nil {
		return err
	}
	h.c.Start()
	return nil
}

func (h *Housekeeper) Stop() { h.c.Stop() }
