package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/modules/journal/applog"
	"github.com/drfeelgood/core/internal/pkg/failure"
	"go.uber.org/zap"
)

type Service struct {
	log    *applog.Log
	logger *zap.Logger
	now    func() time.Time
}

func NewService(log *applog.Log, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{log: log, logger: logger, now: time.Now}
}

// Add appends a pending reminder.
func (s *Service) Add(ctx context.Context, dto AddDTO) (Reminder, error) {
	text := strings.TrimSpace(dto.Reminder)
	if text == "" {
		return Reminder{}, failure.New(failure.Validation, "add reminder", "reminder text is required")
	}
	now := s.now().UTC()
	r := Reminder{
		ID:       now.Unix(),
		Reminder: text,
		DueDate:  strings.TrimSpace(dto.DueDate),
		Status:   StatusPending,
		Created:  now.Format(time.RFC3339),
	}
	if err := s.log.Append(ctx, r); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// List returns every stored reminder as written, oldest first.
func (s *Service) List(ctx context.Context) ([]json.RawMessage, error) {
	return s.log.Entries(ctx)
}

// Complete marks the first reminder with the given id as done. Every other entry, and
// every other field of the matched entry, is written back unchanged.
func (s *Service) Complete(ctx context.Context, id int64) (Reminder, error) {
	var done Reminder
	completed := s.now().UTC().Format(time.RFC3339)

	err := s.log.Modify(ctx, func(entries []json.RawMessage) ([]json.RawMessage, error) {
		idx := indexOf(entries, id)
		if idx < 0 {
			return nil, failure.New(failure.NotFound, "complete reminder", "no reminder with id %d", id)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entries[idx], &fields); err != nil {
			return nil, failure.Wrap(failure.MalformedStoredData, "complete reminder", err)
		}
		fields["status"], _ = json.Marshal(StatusDone)
		fields["completed"], _ = json.Marshal(completed)

		updated, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode reminder %d: %w", id, err)
		}
		if err := json.Unmarshal(updated, &done); err != nil {
			return nil, failure.Wrap(failure.MalformedStoredData, "complete reminder", err)
		}

		out := make([]json.RawMessage, len(entries))
		copy(out, entries)
		out[idx] = updated
		return out, nil
	})
	if err != nil {
		return Reminder{}, err
	}
	s.logger.Info("reminder completed", zap.Int64("id", id))
	return done, nil
}

// Due returns pending reminders whose due date is on or before day. Entries without a
// parseable YYYY-MM-DD due date are skipped.
func (s *Service) Due(ctx context.Context, day time.Time) ([]Reminder, error) {
	entries, err := s.log.Entries(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := day.Format(dueDateLayout)

	var due []Reminder
	for _, raw := range entries {
		var r Reminder
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if r.Status != StatusPending || len(r.DueDate) < len(dueDateLayout) {
			continue
		}
		date := r.DueDate[:len(dueDateLayout)]
		if _, err := time.Parse(dueDateLayout, date); err != nil {
			continue
		}
		if date <= cutoff {
			due = append(due, r)
		}
	}
	return due, nil
}

func indexOf(entries []json.RawMessage, id int64) int {
	for i, raw := range entries {
		var probe struct {
			ID *json.Number `json:"id"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == nil {
			continue
		}
		if n, err := probe.ID.Int64(); err == nil && n == id {
			return i
		}
	}
	return -1
}
