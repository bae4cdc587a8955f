//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
)

// SeedCatalog writes the configured catalog to the store.
func (s *SQLStore) SeedCatalog(ctx context.Context, cat config.CatalogConfig) error {
	models, brains, users, err := FromCatalog(cat)
	if err != nil {
		return err
	}
	return s.Seed(ctx, models, brains, users)
}

// FromCatalog converts catalog entries into store records.
func FromCatalog(cat config.CatalogConfig) ([]Model, []SeedBrain, []UserSettings, error) {
	models := make([]Model, 0, len(cat.Models))
	for _, m := range cat.Models {
		models = append(models, Model{
			Name:            m.Name,
			DisplayName:     m.DisplayName,
			Description:     m.Description,
			Supplier:        m.Supplier,
			EndpointURL:     m.EndpointURL,
			EnvVariableName: m.EnvVariableName,
			MaxInput:        m.MaxInput,
			MaxOutput:       m.MaxOutput,
			MaxTemperature:  m.MaxTemperature,
			Price:           m.Price,
		})
	}

	brains := make([]SeedBrain, 0, len(cat.Brains))
	for _, b := range cat.Brains {
		id, err := uuid.Parse(b.ID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("brain %q: invalid id: %w", b.Name, err)
		}
		sb := SeedBrain{
			Brain: Brain{
				ID:          id,
				Name:        b.Name,
				Description: b.Description,
				Model:       b.Model,
				Prompt:      b.Prompt,
			},
			Members: make(map[uuid.UUID]Role, len(b.Members)),
		}
		for user, role := range b.Members {
			uid, err := uuid.Parse(user)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("brain %q: invalid member id: %w", b.Name, err)
			}
			r := Role(role)
			if !r.Valid() {
				return nil, nil, nil, fmt.Errorf("brain %q: invalid role %q", b.Name, role)
			}
			sb.Members[uid] = r
		}
		brains = append(brains, sb)
	}

	users := make([]UserSettings, 0, len(cat.Users))
	for _, u := range cat.Users {
		id, err := uuid.Parse(u.ID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("user %q: invalid id: %w", u.Email, err)
		}
		users = append(users, UserSettings{
			UserID:            id,
			Email:             u.Email,
			MonthlyChatCredit: u.MonthlyChatCredit,
			Models:            u.Models,
		})
	}

	return models, brains, users, nil
}
