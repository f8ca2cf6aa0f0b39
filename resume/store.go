// Package resume implements the resume-token store collaborator
// spec.md §6 and §9 call out as a required-but-unspecified contract:
// "Resume support, if enabled, requires a resume-token store
// collaborator with save(token, framePosition) and
// load(token) -> framePosition?"
package resume

import "context"

// Store persists, per resume token, how far a connection's frame
// stream has progressed, so a RESUME can pick up from the right
// position after a transport failure.
type Store interface {
	// Save records position as the latest known frame position for token.
	Save(ctx context.Context, token []byte, position uint64) error

	// Load returns the last saved position for token and true, or
	// (0, false) if token is unknown.
	Load(ctx context.Context, token []byte) (position uint64, ok bool, err error)

	// Delete forgets token, e.g. once a connection closes without resume.
	Delete(ctx context.Context, token []byte) error
}
