// ABOUTME: Content fingerprinting for documents and index nodes
// ABOUTME: blake3-based; identical content and scorer version yield identical ids

package tree

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"
)

// fingerprintLen is the hex length of truncated fingerprints
const fingerprintLen = 16

// DocumentFingerprint hashes raw document content
func DocumentFingerprint(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// LeafFingerprint hashes a leaf's own content span plus the scorer version
func LeafFingerprint(docID string, chunkIndex int, text, scorerVersion string) string {
	return hashParts(docID, strconv.Itoa(chunkIndex), text, scorerVersion)
}

// InteriorFingerprint hashes the concatenation of child fingerprints plus
// the scorer version, so content-identical rebuilds with the same scorer
// produce byte-identical fingerprints.
func InteriorFingerprint(childFingerprints []string, scorerVersion string) string {
	parts := make([]string, 0, len(childFingerprints)+1)
	parts = append(parts, childFingerprints...)
	parts = append(parts, scorerVersion)
	return hashParts(parts...)
}

// LeafID derives a leaf node id from its fingerprint
func LeafID(fingerprint string) string {
	return "chunk-" + fingerprint
}

// InteriorID derives an interior node id from its grouping round and fingerprint
func InteriorID(round int, fingerprint string) string {
	return fmt.Sprintf("lvl%d-%s", round, fingerprint)
}

func hashParts(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator so part boundaries stay distinct
	}
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

// ManifestSource looks up the stored manifest for a document
type ManifestSource interface {
	GetManifest(ctx context.Context, docID string) (*Manifest, error)
}

// Tracker decides per-document reuse vs. rebuild from content fingerprints.
// It never inspects node-level content.
type Tracker struct {
	manifests ManifestSource
}

// NewTracker creates a fingerprint tracker over a manifest source
func NewTracker(manifests ManifestSource) *Tracker {
	return &Tracker{manifests: manifests}
}

// ShouldRebuild returns true iff no manifest exists for docID or the stored
// fingerprint differs from the given one.
func (t *Tracker) ShouldRebuild(ctx context.Context, docID, fingerprint string) (bool, error) {
	m, err := t.manifests.GetManifest(ctx, docID)
	if errors.Is(err, ErrManifestNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load manifest for %q: %w", docID, err)
	}
	return m.Fingerprint != fingerprint, nil
}
