// Package objectstore defines the uniform interface the migrator drives
// regardless of which remote backend is configured. The sole implementation
// today lives in the s3 subpackage.
package objectstore

import (
	"context"
	"os"
)

// Store is the contract a remote backend must satisfy. All network ops are
// expected to retry internally up to their own configured bound and to
// return *errors.Error values from the errors package's taxonomy so callers
// can branch on Kind rather than inspecting adapter-specific types.
type Store interface {
	// Connect initializes the client, validates the bucket name, and
	// ensures the target bucket exists, creating it with a private ACL
	// if absent.
	Connect(ctx context.Context) error

	// Disconnect releases any held client/connection state. Safe to call
	// on an already-disconnected Store.
	Disconnect(ctx context.Context) error

	// Upload streams the whole content of f, from offset 0, to the given
	// object id. It may move f's file offset. The S3 adapter duplicates
	// f's descriptor before streaming so that closing its internal
	// reader does not close the caller's fd; the duplicate shares f's
	// offset.
	Upload(ctx context.Context, f *os.File, objectID string) error

	// Download streams the named object's content into f, starting at
	// offset 0, overwriting any existing bytes there.
	Download(ctx context.Context, f *os.File, objectID string) error

	// ObjectIDFor derives the deterministic, bounded-length remote key
	// for a local path. Two calls with the same path and device/inode
	// identity must return the same id.
	ObjectIDFor(path string, dev, ino uint64) (string, error)

	// ObjectIDMaxLen is the longest id this adapter's backend accepts.
	ObjectIDMaxLen() int
}
