package selection

// Catalog maps zone ids to zones for one host-provided zone list. It is
// never modified after construction; a new zone list means a new Catalog.
type Catalog struct {
	byID  map[string]Zone
	order []string
}

// NewCatalog indexes zones by id. Later duplicates replace earlier ones
// but keep the first position.
func NewCatalog(zones []Zone) *Catalog {
	c := &Catalog{
		byID:  make(map[string]Zone, len(zones)),
		order: make([]string, 0, len(zones)),
	}
	for _, z := range zones {
		if z.ID == "" {
			continue
		}
		if _, exists := c.byID[z.ID]; !exists {
			c.order = append(c.order, z.ID)
		}
		c.byID[z.ID] = z
	}
	return c
}

// Get returns the zone for id.
func (c *Catalog) Get(id string) (Zone, bool) {
	z, ok := c.byID[id]
	return z, ok
}

// Resolve looks up ids in order, silently dropping unknown and repeated ids.
func (c *Catalog) Resolve(ids []string) []Zone {
	zones := make([]Zone, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if z, ok := c.byID[id]; ok {
			seen[id] = struct{}{}
			zones = append(zones, z)
		}
	}
	return zones
}

// All returns every zone in catalog order.
func (c *Catalog) All() []Zone {
	zones := make([]Zone, 0, len(c.order))
	for _, id := range c.order {
		zones = append(zones, c.byID[id])
	}
	return zones
}

// Len returns the number of zones.
func (c *Catalog) Len() int {
	return len(c.order)
}
