package upload

import (
	"errors"
	"time"

	"crease/internal/analysis"
	"crease/internal/logging"
	"crease/internal/services"
	"crease/internal/uploadstore"
)

// runDirect performs the multipart request for a and applies its response.
func (c *Coordinator) runDirect(a *attempt, form analysis.UploadForm) {
	defer c.wg.Done()

	ctx := services.WithStage(a.ctx, "direct")
	resp, err := c.backend.UploadVideo(ctx, form, func(sent, total int64) {
		c.recordProgress(a, sent, total)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(a) {
		a.logger.Debug("ignoring direct response for settled attempt",
			logging.Bool("errored", err != nil),
		)
		return
	}

	switch {
	case err == nil && resp != nil && resp.Result != nil:
		c.completeLocked(a, resp.Result, "direct")
	case err == nil && resp != nil && resp.JobID != "":
		a.record.JobID = resp.JobID
		a.logger.Info("backend accepted upload as job",
			logging.String("job_id", resp.JobID),
			logging.String(logging.FieldEventType, "upload_job_accepted"),
		)
		if a.record.Status == uploadstore.StatusProcessing {
			c.persistLocked(a)
		}
		c.enterProcessingLocked(a, "job_accepted")
	case err == nil:
		c.failLocked(a, services.Wrap(services.ErrRejected, "upload", "direct", "backend returned an empty response", nil))
	case services.IsRetryable(err):
		logging.WarnWithContext(a.logger, "direct upload interrupted; polling for result", "upload_direct_interrupted",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String(logging.FieldImpact, "result will be fetched by polling"),
		)
		c.enterProcessingLocked(a, "direct_interrupted")
	default:
		c.failLocked(a, err)
	}
}

// poll fetches the result every pollInterval until a settles.
func (c *Coordinator) poll(a *attempt) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if c.pollOnce(a) {
			return
		}
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enforceDeadline fails a once its absolute budget runs out, whether it is
// still uploading or already polling.
func (c *Coordinator) enforceDeadline(a *attempt, remaining time.Duration) {
	defer c.wg.Done()

	deadline := time.NewTimer(max(remaining, 0))
	defer deadline.Stop()

	select {
	case <-a.ctx.Done():
		return
	case <-deadline.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isCurrentLocked(a) {
		c.failLocked(a, ErrUploadTimeout)
	}
}

// pollOnce performs one poll and reports whether polling should stop.
func (c *Coordinator) pollOnce(a *attempt) bool {
	c.mu.Lock()
	if !c.isCurrentLocked(a) {
		c.mu.Unlock()
		return true
	}
	if a.record.Elapsed(c.now()) > c.maxDuration {
		c.failLocked(a, ErrUploadTimeout)
		c.mu.Unlock()
		return true
	}
	jobID := a.record.JobID
	filename := a.record.PollFilename()
	c.mu.Unlock()

	ctx := services.WithStage(a.ctx, "poll")
	var (
		result *analysis.Result
		err    error
	)
	if jobID != "" {
		result, err = c.backend.GetJobResult(ctx, jobID)
	} else {
		result, err = c.backend.GetAnalysisResult(ctx, filename)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(a) {
		return true
	}
	switch {
	case err == nil && result != nil:
		c.completeLocked(a, result, "poll")
		return true
	case err == nil:
		return false
	case services.IsNotFound(err):
		a.logger.Debug("analysis not ready yet",
			logging.String("filename", filename),
			logging.String("job_id", jobID),
		)
		return false
	case errors.Is(err, analysis.ErrJobFailed):
		c.failLocked(a, err)
		return true
	case a.ctx.Err() != nil:
		return true
	default:
		logging.WarnWithContext(a.logger, "result poll failed; will retry", "upload_poll_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String(logging.FieldImpact, "result retrieval delayed"),
		)
		return false
	}
}

func (c *Coordinator) enterProcessingLocked(a *attempt, reason string) {
	if a.record.Status == uploadstore.StatusUploading {
		a.record.Status = uploadstore.StatusProcessing
		c.persistLocked(a)
		a.logger.Info("upload processing",
			logging.String("reason", reason),
			logging.UploadStatus(string(a.record.Status)),
			logging.String(logging.FieldEventType, "upload_processing"),
		)
	}
	c.startPollingLocked(a)
}

func (c *Coordinator) startPollingLocked(a *attempt) {
	if a.polling {
		return
	}
	a.polling = true
	c.wg.Add(1)
	go c.poll(a)
}

func (c *Coordinator) completeLocked(a *attempt, result *analysis.Result, source string) {
	a.record.Status = uploadstore.StatusCompleted
	a.record.Result = result
	a.record.Error = ""
	c.persistLocked(a)

	cached := *result
	if cached.Filename == "" {
		cached.Filename = a.record.PollFilename()
	}
	if err := c.store.SaveResult(c.ctx, a.record.UploadID, &cached); err != nil {
		logging.WarnWithContext(a.logger, "failed to cache analysis result", "upload_result_cache_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "result will not be available offline"),
		)
	}

	a.outcome.settle(result, nil)
	a.cancel()
	a.logger.Info("upload completed",
		logging.String("source", source),
		logging.Duration("elapsed", a.record.Elapsed(c.now())),
		logging.UploadStatus(string(a.record.Status)),
		logging.String(logging.FieldEventType, "upload_completed"),
	)
	c.scheduleCleanupLocked(a)
}

func (c *Coordinator) failLocked(a *attempt, err error) {
	a.record.Status = uploadstore.StatusFailed
	a.record.Result = nil
	a.record.Error = err.Error()
	c.persistLocked(a)

	a.outcome.settle(nil, err)
	a.cancel()
	logging.ErrorWithContext(a.logger, "upload failed", "upload_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
		logging.UploadStatus(string(a.record.Status)),
		logging.String(logging.FieldImpact, "no analysis for this video"),
	)
	c.scheduleCleanupLocked(a)
}

func (c *Coordinator) persistLocked(a *attempt) {
	if err := c.store.Save(c.ctx, a.record); err != nil {
		logging.WarnWithContext(a.logger, "failed to persist upload record", "upload_persist_failed",
			logging.Error(err),
			logging.UploadStatus(string(a.record.Status)),
			logging.String(logging.FieldImpact, "a restarted process may not see this state"),
		)
	}
}

// scheduleCleanupLocked deletes the terminal record after cleanupDelay unless
// another attempt has taken the slot by then.
func (c *Coordinator) scheduleCleanupLocked(a *attempt) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.cleanupDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-a.quit:
			return
		case <-c.ctx.Done():
			return
		}
		c.cleanup(a)
	}()
}

func (c *Coordinator) cleanup(a *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a.abandoned {
		return
	}
	a.abandoned = true
	close(a.quit)
	if c.current == a {
		c.current = nil
	}

	removed, err := c.store.DeleteIf(c.ctx, a.record.UploadID)
	if err != nil {
		logging.WarnWithContext(a.logger, "failed to clear upload record", "upload_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start will overwrite the stale record"),
		)
		return
	}
	a.logger.Debug("upload record cleared",
		logging.Bool("removed", removed),
		logging.String(logging.FieldEventType, "upload_cleared"),
	)
}
