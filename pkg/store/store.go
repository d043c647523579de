// ABOUTME: Disk-backed lazy node store on BadgerDB
// ABOUTME: One durable record per node id; append-only from the caller's view

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/nainya/treenav/pkg/tree"
)

// ErrNodeNotFound is returned for unknown or garbage-collected node ids.
// It is the signal used to detect stale subtree references.
var ErrNodeNotFound = errors.New("node not found")

// Key prefixes inside the badger keyspace
const (
	prefixNode     = "node/"
	prefixManifest = "manifest/"
	keyRootPointer = "root"
)

// Config holds storage configuration
type Config struct {
	Dir        string // Directory for badger files; ignored when InMemory
	InMemory   bool   // In-memory mode, used by tests
	SyncWrites bool   // Synchronous writes for durability
}

// DefaultConfig returns production defaults for the given directory
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, SyncWrites: true}
}

// RootPointer locates the global hierarchical root across all documents
type RootPointer struct {
	RootID       string
	DocRootCount int
	UpdatedAt    time.Time
}

// Store persists index nodes and document manifests. A node can be
// referenced by id without its children being loaded.
type Store struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the node store
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open node store: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("init decompressor: %w", err)
	}

	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close closes the store
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) compress(data []byte) []byte {
	return s.enc.EncodeAll(data, nil)
}

func (s *Store) decompress(data []byte) ([]byte, error) {
	return s.dec.DecodeAll(data, nil)
}

// PutNode writes one node atomically. The record becomes visible to
// readers only once the transaction commits; a partially written node is
// never observable.
func (s *Store) PutNode(ctx context.Context, n *tree.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.encodeNode(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixNode+n.ID), data)
	})
	if err != nil {
		return fmt.Errorf("write node %s: %w", n.ID, err)
	}
	return nil
}

// GetNode reads one node by id
func (s *Store) GetNode(ctx context.Context, id string) (*tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var node *tree.Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixNode + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, derr := s.decodeNode(val)
			if derr != nil {
				return derr
			}
			node = n
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("node %q: %w", id, ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", id, err)
	}
	return node, nil
}

// DeleteNode removes one node record. Reads of the id afterwards return
// ErrNodeNotFound. Deleting an unknown id is not an error.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixNode + id))
	})
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

// GetChildren returns the ordered child ids of a node without hydrating
// the children themselves.
func (s *Store) GetChildren(ctx context.Context, id string) ([]string, error) {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.ChildIDs, nil
}

// PutManifest durably publishes a document manifest. The previous manifest
// for the same document stays valid until this write commits.
func (s *Store) PutManifest(ctx context.Context, m *tree.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeManifest(m)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.DocID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixManifest+m.DocID), data)
	})
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", m.DocID, err)
	}
	return nil
}

// GetManifest reads the manifest for a document
func (s *Store) GetManifest(ctx context.Context, docID string) (*tree.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var manifest *tree.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixManifest + docID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			m, derr := decodeManifest(val)
			if derr != nil {
				return derr
			}
			manifest = m
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("document %q: %w", docID, tree.ErrManifestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", docID, err)
	}
	return manifest, nil
}

// ListManifests returns all document manifests in key order
func (s *Store) ListManifests(ctx context.Context) ([]*tree.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var manifests []*tree.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixManifest)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				m, derr := decodeManifest(val)
				if derr != nil {
					return derr
				}
				manifests = append(manifests, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	return manifests, nil
}

// PutRootPointer publishes the global hierarchical root
func (s *Store) PutRootPointer(ctx context.Context, p *RootPointer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encMode.Marshal(rootPointerRecord{
		RootID:       p.RootID,
		DocRootCount: p.DocRootCount,
		UpdatedAt:    p.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode root pointer: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyRootPointer), data)
	})
	if err != nil {
		return fmt.Errorf("write root pointer: %w", err)
	}
	return nil
}

// GetRootPointer reads the global hierarchical root, or ErrNodeNotFound
// when no index has been built yet.
func (s *Store) GetRootPointer(ctx context.Context) (*RootPointer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pointer *RootPointer
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyRootPointer))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec rootPointerRecord
			if derr := decMode.Unmarshal(val, &rec); derr != nil {
				return derr
			}
			pointer = &RootPointer{
				RootID:       rec.RootID,
				DocRootCount: rec.DocRootCount,
				UpdatedAt:    rec.UpdatedAt,
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("root pointer: %w", ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read root pointer: %w", err)
	}
	return pointer, nil
}

// GarbageCollect deletes the subtrees of all superseded roots recorded in
// the document's manifest and clears the retention list. Old ids become
// ErrNodeNotFound afterwards, which is the documented stale-id signal.
// Collection is explicit; nothing is deleted eagerly on rebuild.
func (s *Store) GarbageCollect(ctx context.Context, docID string) (int, error) {
	m, err := s.GetManifest(ctx, docID)
	if err != nil {
		return 0, err
	}
	if len(m.SupersededRoots) == 0 {
		return 0, nil
	}

	// Collect ids breadth-first before deleting, skipping nodes shared
	// with the live tree (identical content keeps identical ids).
	live := make(map[string]bool)
	if err := s.collectSubtree(ctx, m.RootID, func(id string) { live[id] = true }); err != nil {
		return 0, err
	}
	var doomed []string
	seen := make(map[string]bool)
	for _, rootID := range m.SupersededRoots {
		err := s.collectSubtree(ctx, rootID, func(id string) {
			if !live[id] && !seen[id] {
				seen[id] = true
				doomed = append(doomed, id)
			}
		})
		if err != nil && !errors.Is(err, ErrNodeNotFound) {
			return 0, err
		}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range doomed {
		if err := wb.Delete([]byte(prefixNode + id)); err != nil {
			return 0, fmt.Errorf("collect node %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush garbage collection: %w", err)
	}

	m.SupersededRoots = nil
	if err := s.PutManifest(ctx, m); err != nil {
		return len(doomed), err
	}
	return len(doomed), nil
}

// collectSubtree walks a subtree by id, invoking visit for every node
func (s *Store) collectSubtree(ctx context.Context, rootID string, visit func(id string)) error {
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children, err := s.GetChildren(ctx, id)
		if err != nil {
			return err
		}
		visit(id)
		queue = append(queue, children...)
	}
	return nil
}
