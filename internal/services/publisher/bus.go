package publisher

import (
	"errors"

	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/models"
)

// EventMessage is the bus payload for one pipeline event.
type EventMessage struct {
	JobID string `json:"job_id"`
	models.Event
}

// BusSink forwards pipeline events to the message bus. Frame rows are not published.
// Publish failures are logged and never fail the run.
type BusSink struct {
	pub     models.MessagePublisher
	subject string
	jobID   string
	failed  int
}

func NewBusSink(pub models.MessagePublisher, prefix, jobID string) *BusSink {
	return &BusSink{pub: pub, subject: prefix + ".events", jobID: jobID}
}

func (s *BusSink) Subject() string { return s.subject }

func (s *BusSink) WriteFrame(models.FrameRecord) error { return nil }

func (s *BusSink) WriteEvent(ev models.Event) error {
	if err := s.pub.Publish(s.subject, EventMessage{JobID: s.jobID, Event: ev}); err != nil {
		s.failed++
		if s.failed <= 3 {
			log.Warn().Err(err).Str("job_id", s.jobID).Str("subject", s.subject).Msg("Failed to publish pipeline event")
		}
	}
	return nil
}

func (s *BusSink) Close() error {
	if s.failed > 0 {
		log.Warn().Str("job_id", s.jobID).Int("failed", s.failed).Msg("Some pipeline events were not published")
	}
	return nil
}

// Sink is the telemetry sink contract shared with the pipeline.
type Sink interface {
	WriteFrame(rec models.FrameRecord) error
	WriteEvent(ev models.Event) error
	Close() error
}

// Tee fans every record out to all sinks in order. The first failure stops the fan-out.
type Tee []Sink

func (t Tee) WriteFrame(rec models.FrameRecord) error {
	for _, s := range t {
		if err := s.WriteFrame(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) WriteEvent(ev models.Event) error {
	for _, s := range t {
		if err := s.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins the errors.
func (t Tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
