// Package repository defines the document repository that the virtual
// machine collaborates with, and a LevelDB backed local implementation.
//
// The repository persists four kinds of state: committed documents (content
// addressed and immutable), drafts (mutable, addressed by tag and version),
// named FIFO message queues, and a published event log. The processor only
// touches the repository through the Repository interface; the cloud
// deployment substitutes its own implementation behind the same contract.
package repository

import (
	"errors"

	"github.com/bali-nebula/bvm/pkg/elements"
)

// WaitQueue is the well-known queue that suspended tasks waiting on message
// delivery are checkpointed to. Any available processor may resume them.
const WaitQueue = elements.Tag("2RMPLSL5C2B8RB8KYLRGT1Q0HNPLABS9")

// ErrNotFound is returned when a cited document or draft does not exist.
var ErrNotFound = errors.New("repository: document not found")

// ErrAlreadyCommitted is returned when committing a document version that
// has already been committed, since committed documents are immutable.
var ErrAlreadyCommitted = errors.New("repository: document already committed")

// Repository is the document store contract consumed by the virtual machine.
type Repository interface {
	// RetrieveDocument performs a content-addressed read of a committed
	// document and verifies its digest against the citation.
	RetrieveDocument(citation *elements.Reference) (elements.Value, error)

	// RetrieveDraft reads a mutable draft by tag and version.
	RetrieveDraft(tag elements.Tag, version elements.Version) (elements.Value, error)

	// CommitDocument makes a document version immutable and returns its
	// content-addressed citation. Any draft of the version is consumed.
	CommitDocument(tag elements.Tag, version elements.Version, document elements.Value) (*elements.Reference, error)

	// SaveDraft writes a mutable draft, replacing any previous content.
	SaveDraft(tag elements.Tag, version elements.Version, document elements.Value) error

	// ReceiveMessage removes and returns the first message on a queue.
	// It never blocks; an empty queue yields a nil message.
	ReceiveMessage(queue elements.Tag) (elements.Value, error)

	// QueueMessage appends a message to a queue.
	QueueMessage(queue elements.Tag, message elements.Value) error

	// PublishEvent appends an event to the event log.
	PublishEvent(event *elements.Catalog) error
}
