//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package chat

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// DerivedID returns the identifier a model can be addressed by in the
// brain slot of a question: the first 16 bytes of SHA-256 over its name.
func DerivedID(name string) uuid.UUID {
	sum := sha256.Sum256([]byte(name))
	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// Resolve returns the first model whose derived id equals candidate, or
// nil when none does.
func Resolve(candidate uuid.UUID, known []store.Model) *store.Model {
	for i := range known {
		if DerivedID(known[i].Name) == candidate {
			return &known[i]
		}
	}
	return nil
}

// Target is where a question is routed: either a brain or a model.
type Target interface {
	isTarget()
}

// BrainTarget routes through a brain's knowledge and settings.
type BrainTarget struct {
	ID uuid.UUID
}

// ModelTarget talks to a model directly.
type ModelTarget struct {
	Model store.Model
}

func (BrainTarget) isTarget() {}
func (ModelTarget) isTarget() {}

// ResolveTarget decides the routing target for a question. A candidate
// matching a model's derived id always wins over a brain with the same id.
func ResolveTarget(candidate *uuid.UUID, known []store.Model) (Target, error) {
	if candidate == nil || *candidate == uuid.Nil {
		return nil, fmt.Errorf("%w: no brain or model selected", ErrUnprocessable)
	}
	if m := Resolve(*candidate, known); m != nil {
		return ModelTarget{Model: *m}, nil
	}
	return BrainTarget{ID: *candidate}, nil
}
