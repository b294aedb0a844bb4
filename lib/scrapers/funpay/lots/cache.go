package lots

import (
	"errors"

	"fptools-backend/lib/kvstore"
)

const inactiveCacheKey = "inactive_lots"

// InactiveCache remembers listings deactivated through this client.
// The profile page omits some deactivated listings from normal
// rendering, so the cache is merged into the listing view at read
// time. A listing leaves the cache once reactivated or deleted.
type InactiveCache struct {
	store *kvstore.Store
}

func NewInactiveCache(store *kvstore.Store) *InactiveCache {
	return &InactiveCache{store: store}
}

func (c *InactiveCache) all() (map[string]Lot, error) {
	lots := map[string]Lot{}
	err := c.store.GetJSON(inactiveCacheKey, &lots)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, err
	}
	return lots, nil
}

func (c *InactiveCache) All() ([]Lot, error) {
	byId, err := c.all()
	if err != nil {
		return nil, err
	}
	out := make([]Lot, 0, len(byId))
	for _, lot := range byId {
		out = append(out, lot)
	}
	return out, nil
}

func (c *InactiveCache) Put(lot Lot) error {
	byId, err := c.all()
	if err != nil {
		return err
	}
	lot.Active = false
	byId[lot.Id] = lot
	return c.store.SetJSON(inactiveCacheKey, byId)
}

func (c *InactiveCache) Remove(lotId string) error {
	byId, err := c.all()
	if err != nil {
		return err
	}
	if _, ok := byId[lotId]; !ok {
		return nil
	}
	delete(byId, lotId)
	return c.store.SetJSON(inactiveCacheKey, byId)
}

func (c *InactiveCache) Get(lotId string) (Lot, bool, error) {
	byId, err := c.all()
	if err != nil {
		return Lot{}, false, err
	}
	lot, ok := byId[lotId]
	return lot, ok, nil
}
