package repository

import (
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bali-nebula/bvm/pkg/elements"
	"github.com/bali-nebula/bvm/pkg/notary"
)

// Key schema for the LevelDB keyspace. Queue and event entries carry a
// fixed-width big-endian sequence number so that iteration order is FIFO.
const (
	documentPrefix = "document/"
	draftPrefix    = "draft/"
	queuePrefix    = "queue/"
	counterPrefix  = "counter/"
	eventPrefix    = "event/"
)

// cacheSize bounds the number of committed documents kept in memory.
// Committed documents are immutable so cached entries never go stale.
const cacheSize = 256

// Local is a Repository backed by a single LevelDB keyspace.
type Local struct {
	db     *leveldb.DB
	cache  *lru.Cache
	logger log.Logger

	mutex sync.Mutex // guards queue pops and sequence counters
}

// NewLocal opens (or creates) a repository at the given directory.
func NewLocal(path string) (*Local, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: opening %s: %w", path, err)
	}
	return newLocal(db), nil
}

// NewMemory creates an ephemeral repository on in-memory storage. It is
// used by tests and the command-line sandbox.
func NewMemory() *Local {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err) // memory storage cannot fail to open
	}
	return newLocal(db)
}

func newLocal(db *leveldb.DB) *Local {
	cache, _ := lru.New(cacheSize)
	return &Local{
		db:     db,
		cache:  cache,
		logger: log.New("pkg", "repository"),
	}
}

// Close releases the underlying database.
func (r *Local) Close() error { return r.db.Close() }

func documentKey(tag elements.Tag, version elements.Version) []byte {
	return []byte(documentPrefix + string(tag) + "/" + version.Format())
}

func draftKey(tag elements.Tag, version elements.Version) []byte {
	return []byte(draftPrefix + string(tag) + "/" + version.Format())
}

// RetrieveDocument implements Repository.
func (r *Local) RetrieveDocument(citation *elements.Reference) (elements.Value, error) {
	if cached, ok := r.cache.Get(citation.Format()); ok {
		return cached.(elements.Value), nil
	}
	source, err := r.db.Get(documentKey(citation.Tag, citation.Version), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, citation.Format())
	}
	if err != nil {
		return nil, err
	}
	document, err := elements.Parse(string(source))
	if err != nil {
		return nil, err
	}
	if !notary.CitationMatches(citation, document) {
		return nil, fmt.Errorf("repository: digest mismatch for %s", citation.Format())
	}
	r.cache.Add(citation.Format(), document)
	return document, nil
}

// RetrieveDraft implements Repository.
func (r *Local) RetrieveDraft(tag elements.Tag, version elements.Version) (elements.Value, error) {
	source, err := r.db.Get(draftKey(tag, version), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: draft %s %s", ErrNotFound, tag.Format(), version.Format())
	}
	if err != nil {
		return nil, err
	}
	return elements.Parse(string(source))
}

// CommitDocument implements Repository. The committed version becomes
// immutable and any draft of it is consumed.
func (r *Local) CommitDocument(tag elements.Tag, version elements.Version, document elements.Value) (*elements.Reference, error) {
	key := documentKey(tag, version)
	if exists, _ := r.db.Has(key, nil); exists {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyCommitted, tag.Format(), version.Format())
	}
	batch := new(leveldb.Batch)
	batch.Put(key, []byte(document.Format()))
	batch.Delete(draftKey(tag, version))
	if err := r.db.Write(batch, nil); err != nil {
		return nil, err
	}
	citation := notary.CiteDocument(tag, version, document)
	r.cache.Add(citation.Format(), document)
	r.logger.Debug("Committed document", "tag", tag.Format(), "version", version.Format())
	return citation, nil
}

// SaveDraft implements Repository.
func (r *Local) SaveDraft(tag elements.Tag, version elements.Version, document elements.Value) error {
	r.logger.Debug("Saved draft", "tag", tag.Format(), "version", version.Format())
	return r.db.Put(draftKey(tag, version), []byte(document.Format()), nil)
}

// QueueMessage implements Repository.
func (r *Local) QueueMessage(queue elements.Tag, message elements.Value) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	sequence, err := r.nextSequence(queuePrefix + string(queue))
	if err != nil {
		return err
	}
	key := append([]byte(queuePrefix+string(queue)+"/"), sequence...)
	r.logger.Debug("Queued message", "queue", queue.Format())
	return r.db.Put(key, []byte(message.Format()), nil)
}

// ReceiveMessage implements Repository. The first message in FIFO order is
// removed and returned; an empty queue yields nil without blocking.
func (r *Local) ReceiveMessage(queue elements.Tag) (elements.Value, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	iterator := r.db.NewIterator(util.BytesPrefix([]byte(queuePrefix+string(queue)+"/")), nil)
	defer iterator.Release()
	if !iterator.First() {
		return nil, iterator.Error()
	}
	message, err := elements.Parse(string(iterator.Value()))
	if err != nil {
		return nil, err
	}
	if err := r.db.Delete(append([]byte{}, iterator.Key()...), nil); err != nil {
		return nil, err
	}
	return message, nil
}

// PublishEvent implements Repository.
func (r *Local) PublishEvent(event *elements.Catalog) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	sequence, err := r.nextSequence(eventPrefix)
	if err != nil {
		return err
	}
	key := append([]byte(eventPrefix), sequence...)
	r.logger.Debug("Published event", "event", event.Format())
	return r.db.Put(key, []byte(event.Format()), nil)
}

// Events returns the published events in publication order.
func (r *Local) Events() ([]*elements.Catalog, error) {
	var events []*elements.Catalog
	iterator := r.db.NewIterator(util.BytesPrefix([]byte(eventPrefix)), nil)
	defer iterator.Release()
	for iterator.Next() {
		event, err := elements.ParseCatalog(string(iterator.Value()))
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, iterator.Error()
}

// nextSequence increments and returns the fixed-width counter for a key
// space, preserving FIFO iteration order.
func (r *Local) nextSequence(space string) ([]byte, error) {
	key := []byte(counterPrefix + space)
	var counter uint64
	if current, err := r.db.Get(key, nil); err == nil {
		counter = binary.BigEndian.Uint64(current)
	} else if err != leveldb.ErrNotFound {
		return nil, err
	}
	counter++
	sequence := make([]byte, 8)
	binary.BigEndian.PutUint64(sequence, counter)
	if err := r.db.Put(key, sequence, nil); err != nil {
		return nil, err
	}
	return sequence, nil
}
