// Package corpus manages the clause corpus: an immutable snapshot of active
// policy clauses with precomputed embeddings, a SQLite-backed store, and
// atomic snapshot swapping for lock-free reads.
package corpus

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hyperjump/hantei/internal/models"
)

var (
	// ErrUnavailable indicates the corpus cannot be read (no snapshot loaded,
	// or the backing store is down). Retryable.
	ErrUnavailable = errors.New("clause corpus unavailable")

	// ErrEmbeddingVersionMismatch indicates corpus and query embeddings come
	// from incompatible embedding-function versions. Fatal for the query;
	// operators must re-embed the corpus rather than mix versions.
	ErrEmbeddingVersionMismatch = errors.New("embedding version mismatch")
)

// Snapshot is an immutable view of the clauses eligible for retrieval: every
// clause of every active policy, sorted by clause ID. Updates never mutate a
// snapshot; a new one is built and swapped in via Holder.
type Snapshot struct {
	embeddingVersion string
	clauses          []models.Clause
	policies         int
	builtAt          time.Time
}

// NewSnapshot builds a snapshot from the given policies. Inactive and draft
// policies are excluded. It enforces globally unique UINs, per-policy clause
// invariants, and a single embedding version across all active policies.
func NewSnapshot(policies []models.Policy) (*Snapshot, error) {
	snap := &Snapshot{builtAt: time.Now()}
	uins := make(map[string]bool, len(policies))
	for i := range policies {
		p := &policies[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if uins[p.UIN] {
			return nil, fmt.Errorf("duplicate policy uin: %s", p.UIN)
		}
		uins[p.UIN] = true
		if p.Status != models.StatusActive {
			continue
		}
		if snap.embeddingVersion == "" {
			snap.embeddingVersion = p.EmbeddingVersion
		} else if p.EmbeddingVersion != snap.embeddingVersion {
			return nil, fmt.Errorf("%w: policy %s embedded with %q, corpus uses %q",
				ErrEmbeddingVersionMismatch, p.UIN, p.EmbeddingVersion, snap.embeddingVersion)
		}
		snap.policies++
		for _, c := range p.Clauses {
			c.PolicyUIN = p.UIN
			snap.clauses = append(snap.clauses, c)
		}
	}
	sort.Slice(snap.clauses, func(i, j int) bool {
		return snap.clauses[i].ID < snap.clauses[j].ID
	})
	return snap, nil
}

// Clauses returns the snapshot's clauses, sorted by clause ID. Callers must
// treat the slice as read-only.
func (s *Snapshot) Clauses() []models.Clause { return s.clauses }

// Len returns the number of eligible clauses.
func (s *Snapshot) Len() int { return len(s.clauses) }

// ActivePolicies returns the number of active policies in the snapshot.
func (s *Snapshot) ActivePolicies() int { return s.policies }

// EmbeddingVersion returns the embedding-function version the corpus was built with.
func (s *Snapshot) EmbeddingVersion() string { return s.embeddingVersion }

// BuiltAt returns when the snapshot was constructed.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// ValidateQueryVersion checks that a query embedder's version matches the
// corpus. An empty corpus (no active clauses) passes: retrieval over it is a
// legitimate empty result, not a version error.
func (s *Snapshot) ValidateQueryVersion(version string) error {
	if len(s.clauses) == 0 {
		return nil
	}
	if s.embeddingVersion != version {
		return fmt.Errorf("%w: corpus %q, query embedder %q",
			ErrEmbeddingVersionMismatch, s.embeddingVersion, version)
	}
	return nil
}

// Holder holds the current snapshot behind an atomic pointer. In-flight
// queries keep reading the snapshot they started with; reloads swap in a new
// one without locking readers.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// NewHolder creates a holder, optionally pre-loaded with a snapshot.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	if s != nil {
		h.p.Store(s)
	}
	return h
}

// Snapshot returns the current snapshot, or ErrUnavailable when none is loaded.
func (h *Holder) Snapshot() (*Snapshot, error) {
	s := h.p.Load()
	if s == nil {
		return nil, ErrUnavailable
	}
	return s, nil
}

// Swap atomically replaces the current snapshot.
func (h *Holder) Swap(s *Snapshot) {
	h.p.Store(s)
}
