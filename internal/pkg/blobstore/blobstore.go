// Package blobstore reads and writes whole files in a hosted repository, tracking the
// revision token each write must present.
package blobstore

import "context"

// Object is a file snapshot. Revision is empty when Exists is false.
type Object struct {
	Content  []byte
	Revision string
	Exists   bool
}

// Store is the read/write contract shared by the GitHub and in-memory backends.
//
// Put with an empty revision creates the file and fails with failure.Conflict if it
// already exists. Put with a revision fails with failure.Conflict when the revision is
// stale and with failure.NotFound when the file has vanished. A successful Put returns
// the new revision.
type Store interface {
	Get(ctx context.Context, path string) (Object, error)
	Put(ctx context.Context, path string, content []byte, message, revision string) (string, error)
}

// CommitMessage is the message used for every log mutation.
func CommitMessage(path string) string {
	return "Update " + path
}
