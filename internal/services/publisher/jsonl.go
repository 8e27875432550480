// Package publisher exports pipeline telemetry: an append-only JSONL analytics file per run
// and live event notifications on the message bus.
package publisher

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"kepler-vision-go/internal/models"
)

const (
	RecordFrame = "frame"
	RecordEvent = "event"
)

type frameRow struct {
	RecordType string `json:"record_type"`
	Type       string `json:"type"`
	models.FrameRecord
}

type eventRow struct {
	RecordType string `json:"record_type"`
	models.Event
}

// JSONLSink writes one JSON object per line. Frame rows carry type "frame"; event rows
// carry the event kind as type, so record_type tells the two apart.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewJSONLSink truncates or creates path, creating parent directories as needed.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create analytics directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create analytics file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &JSONLSink{path: path, file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) WriteFrame(rec models.FrameRecord) error {
	return s.write(frameRow{RecordType: RecordFrame, Type: RecordFrame, FrameRecord: rec})
}

func (s *JSONLSink) WriteEvent(ev models.Event) error {
	return s.write(eventRow{RecordType: RecordEvent, Event: ev})
}

func (s *JSONLSink) write(row any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("analytics sink is closed")
	}
	return s.enc.Encode(row)
}

// Close flushes and closes the file. It is safe to call more than once.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	return errors.Join(flushErr, closeErr)
}

// ReadEvents returns the event rows of an analytics file in file order. A missing file
// yields no events.
func ReadEvents(path string) ([]models.Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open analytics file: %w", err)
	}
	defer f.Close()
	return DecodeEvents(f)
}

// DecodeEvents scans JSONL rows and keeps the event records. Blank and malformed lines
// are skipped.
func DecodeEvents(r io.Reader) ([]models.Event, error) {
	events := []models.Event{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row struct {
			RecordType string `json:"record_type"`
			models.Event
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		if row.RecordType == RecordEvent || (row.RecordType == "" && row.Type != RecordFrame) {
			events = append(events, row.Event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read analytics file: %w", err)
	}
	return events, nil
}
