// ABOUTME: CBOR record codec for durable node and manifest records
// ABOUTME: Deterministic encoding so identical records produce identical bytes

package store

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nainya/treenav/pkg/tree"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// nodeRecord is the durable form of a tree.Node. Leaf text is stored
// zstd-compressed in TextZ; interior nodes carry no payload.
type nodeRecord struct {
	ID            string    `cbor:"id"`
	ParentID      string    `cbor:"parent_id,omitempty"`
	ChildIDs      []string  `cbor:"children_ids,omitempty"`
	Level         int       `cbor:"level"`
	Title         string    `cbor:"title"`
	Summary       string    `cbor:"summary,omitempty"`
	DocID         string    `cbor:"doc_id"`
	StartOffset   int       `cbor:"start_offset"`
	EndOffset     int       `cbor:"end_offset"`
	TextZ         []byte    `cbor:"text_z,omitempty"`
	WordCount     int       `cbor:"word_count"`
	Fingerprint   string    `cbor:"fingerprint"`
	ScorerVersion string    `cbor:"scorer_version"`
	SummaryFell   bool      `cbor:"summary_fell,omitempty"`
	CreatedAt     time.Time `cbor:"created_at"`
}

// manifestRecord is the durable form of a tree.Manifest
type manifestRecord struct {
	DocID           string    `cbor:"doc_id"`
	Fingerprint     string    `cbor:"fingerprint"`
	RootID          string    `cbor:"root_id"`
	NodeCount       int       `cbor:"node_count"`
	ChunkCount      int       `cbor:"chunk_count"`
	SupersededRoots []string  `cbor:"superseded_roots,omitempty"`
	BuiltAt         time.Time `cbor:"built_at"`
}

// rootPointerRecord is the durable global root pointer
type rootPointerRecord struct {
	RootID       string    `cbor:"root_id"`
	DocRootCount int       `cbor:"doc_root_count"`
	UpdatedAt    time.Time `cbor:"updated_at"`
}

func (s *Store) encodeNode(n *tree.Node) ([]byte, error) {
	rec := nodeRecord{
		ID:            n.ID,
		ParentID:      n.ParentID,
		ChildIDs:      n.ChildIDs,
		Level:         n.Level,
		Title:         n.Title,
		Summary:       n.Summary,
		DocID:         n.DocID,
		StartOffset:   n.StartOffset,
		EndOffset:     n.EndOffset,
		WordCount:     n.WordCount,
		Fingerprint:   n.Fingerprint,
		ScorerVersion: n.ScorerVersion,
		SummaryFell:   n.SummaryFell,
		CreatedAt:     n.CreatedAt.UTC(),
	}
	if n.Text != "" {
		rec.TextZ = s.compress([]byte(n.Text))
	}
	return encMode.Marshal(rec)
}

func (s *Store) decodeNode(data []byte) (*tree.Node, error) {
	var rec nodeRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	n := &tree.Node{
		ID:            rec.ID,
		ParentID:      rec.ParentID,
		ChildIDs:      rec.ChildIDs,
		Level:         rec.Level,
		Title:         rec.Title,
		Summary:       rec.Summary,
		DocID:         rec.DocID,
		StartOffset:   rec.StartOffset,
		EndOffset:     rec.EndOffset,
		WordCount:     rec.WordCount,
		Fingerprint:   rec.Fingerprint,
		ScorerVersion: rec.ScorerVersion,
		SummaryFell:   rec.SummaryFell,
		CreatedAt:     rec.CreatedAt,
	}
	if len(rec.TextZ) > 0 {
		text, err := s.decompress(rec.TextZ)
		if err != nil {
			return nil, err
		}
		n.Text = string(text)
	}
	return n, nil
}

func encodeManifest(m *tree.Manifest) ([]byte, error) {
	return encMode.Marshal(manifestRecord{
		DocID:           m.DocID,
		Fingerprint:     m.Fingerprint,
		RootID:          m.RootID,
		NodeCount:       m.NodeCount,
		ChunkCount:      m.ChunkCount,
		SupersededRoots: m.SupersededRoots,
		BuiltAt:         m.BuiltAt.UTC(),
	})
}

func decodeManifest(data []byte) (*tree.Manifest, error) {
	var rec manifestRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &tree.Manifest{
		DocID:           rec.DocID,
		Fingerprint:     rec.Fingerprint,
		RootID:          rec.RootID,
		NodeCount:       rec.NodeCount,
		ChunkCount:      rec.ChunkCount,
		SupersededRoots: rec.SupersededRoots,
		BuiltAt:         rec.BuiltAt,
	}, nil
}
