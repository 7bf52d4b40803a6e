package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker reports progress of a chunked write. It logs at most once
// per interval, plus a final line on completion.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	chunks      int
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 2 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting operation")

	return tracker
}

// AddChunk records one written chunk of n rows.
func (p *ProgressTracker) AddChunk(n int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += int64(n)
	p.chunks++
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics.
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.logger.WithFields(p.fields(time.Now())).Info("Operation completed")
}

// CompleteWithError logs final statistics with the failure.
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.logger.WithError(err).WithFields(p.fields(time.Now())).Error("Operation completed with error")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    p.current,
		Chunks:     p.chunks,
		Percentage: percentage,
		Duration:   time.Since(p.startTime),
	}
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	duration := now.Sub(p.startTime)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"chunks":    p.chunks,
		"duration":  duration.String(),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Chunks     int           `json:"chunks"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d rows (%.1f%%) in %d chunks",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Chunks)
	}
	return fmt.Sprintf("%s: %d rows in %d chunks", ps.Operation, ps.Current, ps.Chunks)
}

// TimedOperation executes fn and logs how long it took and whether it failed.
func TimedOperation(operation string, log Logger, fn func() error) error {
	if log == nil {
		log = GetGlobalLogger()
	}
	start := time.Now()
	log = log.WithField("operation", operation)
	log.Debug("Starting operation")

	err := fn()

	log = log.WithField("duration", time.Since(start).String())
	if err != nil {
		log.WithError(err).Error("Operation failed")
	} else {
		log.Info("Operation completed successfully")
	}
	return err
}
