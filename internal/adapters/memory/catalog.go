package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
)

// Catalog is an in-memory catalog reader for tests and local development.
type Catalog struct {
	mu      sync.RWMutex
	pujas   map[uuid.UUID]domain.PujaType
	pandits map[uuid.UUID]domain.Pandit
}

func NewCatalog() *Catalog {
	return &Catalog{
		pujas:   make(map[uuid.UUID]domain.PujaType),
		pandits: make(map[uuid.UUID]domain.Pandit),
	}
}

func (c *Catalog) AddPujaType(p domain.PujaType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pujas[p.ID] = p
}

func (c *Catalog) AddPandit(p domain.Pandit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pandits[p.ID] = p
}

func (c *Catalog) GetPujaType(ctx context.Context, id uuid.UUID) (domain.PujaType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pujas[id]
	if !ok {
		return domain.PujaType{}, errors.Wrap(domain.ErrNotFound, "puja type")
	}
	return p, nil
}

func (c *Catalog) GetPandit(ctx context.Context, id uuid.UUID) (domain.Pandit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pandits[id]
	if !ok {
		return domain.Pandit{}, errors.Wrap(domain.ErrNotFound, "pandit")
	}
	return p, nil
}

func (c *Catalog) ListApprovedPandits(ctx context.Context) ([]domain.Pandit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Pandit
	for _, p := range c.pandits {
		if p.Approved {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Catalog) SetPanditApproval(ctx context.Context, id uuid.UUID, approved bool) (domain.Pandit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pandits[id]
	if !ok {
		return domain.Pandit{}, errors.Wrap(domain.ErrNotFound, "pandit")
	}
	p.Approved = approved
	c.pandits[id] = p
	return p, nil
}
