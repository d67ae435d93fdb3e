// Package applog implements append-only JSON array logs on top of a blobstore.Store.
//
// Each mutation is a read-modify-write of the whole file guarded by the revision
// obtained from the read. Two writers racing on the same revision cannot both win: the
// second Put fails with failure.Conflict. Entries already in the file are carried
// through verbatim.
package applog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/drfeelgood/core/internal/pkg/blobstore"
	"github.com/drfeelgood/core/internal/pkg/failure"
	"go.uber.org/zap"
)

// MalformedPolicy decides what a write does when the stored file is not a JSON array.
type MalformedPolicy string

const (
	// Reject fails the request and leaves the file untouched.
	Reject MalformedPolicy = "reject"
	// Reset discards the stored content and starts from an empty array.
	Reset MalformedPolicy = "reset"
)

// ParsePolicy accepts "reject" or "reset"; empty means Reject.
func ParsePolicy(raw string) (MalformedPolicy, error) {
	switch MalformedPolicy(raw) {
	case "", Reject:
		return Reject, nil
	case Reset:
		return Reset, nil
	}
	return "", fmt.Errorf("unknown malformed-data policy %q (want reject or reset)", raw)
}

type Log struct {
	store       blobstore.Store
	path        string
	onMalformed MalformedPolicy
	retries     int
	logger      *zap.Logger
}

type Option func(*Log)

func WithMalformedPolicy(p MalformedPolicy) Option {
	return func(l *Log) { l.onMalformed = p }
}

// WithConflictRetries re-fetches and re-applies a mutation up to n more times after a
// conflict. Zero reports the first conflict to the caller.
func WithConflictRetries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.retries = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(store blobstore.Store, path string, opts ...Option) *Log {
	l := &Log{
		store:       store,
		path:        path,
		onMalformed: Reject,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) Path() string { return l.path }

type snapshot struct {
	entries  []json.RawMessage
	revision string
	exists   bool
}

// Entries returns the stored array, or an empty slice when the file does not exist.
// Malformed content is reported as failure.MalformedStoredData under either policy; a
// read never rewrites anything.
func (l *Log) Entries(ctx context.Context) ([]json.RawMessage, error) {
	obj, err := l.store.Get(ctx, l.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	if !obj.Exists {
		return []json.RawMessage{}, nil
	}
	entries, err := Decode(obj.Content)
	if err != nil {
		l.logger.Warn("stored log is not a JSON array",
			zap.String("path", l.path),
			zap.String("revision", obj.Revision),
			zap.Error(err),
		)
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	return entries, nil
}

// Append adds entry at the end of the array, creating the file when absent.
func (l *Log) Append(ctx context.Context, entry any) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return l.mutate(ctx, false, func(entries []json.RawMessage) ([]json.RawMessage, error) {
		return append(entries, raw), nil
	})
}

// Modify rewrites the array in place. It fails with failure.NotFound when the file
// does not exist. fn may return an error to abort without writing.
func (l *Log) Modify(ctx context.Context, fn func([]json.RawMessage) ([]json.RawMessage, error)) error {
	return l.mutate(ctx, true, fn)
}

func (l *Log) mutate(ctx context.Context, mustExist bool, fn func([]json.RawMessage) ([]json.RawMessage, error)) error {
	for attempt := 0; ; attempt++ {
		snap, err := l.load(ctx)
		if err != nil {
			return err
		}
		if mustExist && !snap.exists {
			return failure.New(failure.NotFound, "modify "+l.path, "file does not exist")
		}

		next, err := fn(snap.entries)
		if err != nil {
			return err
		}

		content, err := Encode(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", l.path, err)
		}

		rev, err := l.store.Put(ctx, l.path, content, blobstore.CommitMessage(l.path), snap.revision)
		if err == nil {
			l.logger.Info("log updated",
				zap.String("path", l.path),
				zap.Int("entries", len(next)),
				zap.String("revision", rev),
			)
			return nil
		}
		if failure.KindOf(err) != failure.Conflict || attempt >= l.retries {
			return fmt.Errorf("write %s: %w", l.path, err)
		}
		l.logger.Warn("revision conflict, re-reading",
			zap.String("path", l.path),
			zap.String("revision", snap.revision),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", l.retries),
		)
	}
}

func (l *Log) load(ctx context.Context) (snapshot, error) {
	obj, err := l.store.Get(ctx, l.path)
	if err != nil {
		return snapshot{}, fmt.Errorf("read %s: %w", l.path, err)
	}
	if !obj.Exists {
		return snapshot{entries: []json.RawMessage{}}, nil
	}

	entries, err := Decode(obj.Content)
	if err == nil {
		return snapshot{entries: entries, revision: obj.Revision, exists: true}, nil
	}

	fields := []zap.Field{
		zap.String("path", l.path),
		zap.String("revision", obj.Revision),
		zap.String("policy", string(l.onMalformed)),
		zap.Error(err),
	}
	if l.onMalformed != Reset {
		l.logger.Warn("stored log is not a JSON array, refusing to overwrite", fields...)
		return snapshot{}, fmt.Errorf("read %s: %w", l.path, err)
	}
	l.logger.Warn("stored log is not a JSON array, discarding its content", fields...)
	return snapshot{entries: []json.RawMessage{}, revision: obj.Revision, exists: true}, nil
}

// Decode parses a stored log. Blank content and a JSON null are an empty log; anything
// other than an array is failure.MalformedStoredData.
func Decode(content []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{}, nil
	}
	if trimmed[0] != '[' {
		return nil, failure.New(failure.MalformedStoredData, "decode log", "top-level value is not an array")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, failure.Wrap(failure.MalformedStoredData, "decode log", err)
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return entries, nil
}

// Encode writes entries as a two-space indented array with a trailing newline.
func Encode(entries []json.RawMessage) ([]byte, error) {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// DecodeEntries unmarshals each raw entry into T.
func DecodeEntries[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, failure.Wrap(failure.MalformedStoredData, fmt.Sprintf("decode entry %d", i), err)
		}
		out = append(out, v)
	}
	return out, nil
}
