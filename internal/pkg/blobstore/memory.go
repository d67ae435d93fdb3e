package blobstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/drfeelgood/core/internal/pkg/metrics"
)

// Commit records one successful Put against a Memory store.
type Commit struct {
	Path     string
	Message  string
	Revision string
}

// Memory is an in-process Store with the same revision rules as the hosted API.
// Contents are lost when the process exits.
type Memory struct {
	mu      sync.Mutex
	files   map[string]memoryFile
	commits []Commit
	gen     int
}

type memoryFile struct {
	content  []byte
	revision string
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]memoryFile)}
}

func (m *Memory) Get(_ context.Context, path string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	metrics.ObserveBlobstore("get", resultOf(nil, ok))
	if !ok {
		return Object{}, nil
	}
	return Object{Content: append([]byte(nil), f.content...), Revision: f.revision, Exists: true}, nil
}

func (m *Memory) Put(_ context.Context, path string, content []byte, message, revision string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	const op = "memory put"
	f, exists := m.files[path]
	var err error
	switch {
	case revision == "" && exists:
		err = failure.New(failure.Conflict, op, "%s already exists", path)
	case revision != "" && !exists:
		err = failure.New(failure.NotFound, op, "%s no longer exists", path)
	case revision != "" && revision != f.revision:
		err = failure.New(failure.Conflict, op, "revision %q of %s is stale", revision, path)
	}
	if err != nil {
		metrics.ObserveBlobstore("put", resultOf(err, true))
		return "", err
	}

	rev := m.nextRevision(content)
	m.files[path] = memoryFile{content: append([]byte(nil), content...), revision: rev}
	m.commits = append(m.commits, Commit{Path: path, Message: message, Revision: rev})
	metrics.ObserveBlobstore("put", "ok")
	return rev, nil
}

// Seed writes content without revision checks, for fixtures.
func (m *Memory) Seed(path string, content []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev := m.nextRevision(content)
	m.files[path] = memoryFile{content: append([]byte(nil), content...), revision: rev}
	return rev
}

// Commits returns the successful Puts in order.
func (m *Memory) Commits() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Commit(nil), m.commits...)
}

func (m *Memory) nextRevision(content []byte) string {
	m.gen++
	sum := sha1.Sum(append([]byte(strconv.Itoa(m.gen)+"\x00"), content...))
	return hex.EncodeToString(sum[:])
}
