package compute

import (
	"strings"

	"wasmscan/internal/models"
)

// evalCache memoises rows fetched during a single evaluation. Entries are
// keyed by dependent key; a present entry with no rows means the read ran
// and found nothing, so repeating it costs no further database work. The
// cache never outlives its evaluation: durable reuse across requests is the
// computation store's job.
type evalCache struct {
	// exact rows per point key; prefix holds every row under a prefix key.
	exact  map[string][]models.Dependable
	prefix map[string][]models.Dependable

	contracts map[string]*models.Contract
}

func newEvalCache() *evalCache {
	return &evalCache{
		exact:     make(map[string][]models.Dependable),
		prefix:    make(map[string][]models.Dependable),
		contracts: make(map[string]*models.Contract),
	}
}

// getExact looks up a point key, consulting prefix entries as a fallback:
// a key covered by a previously fetched prefix resolves from that entry
// without another read, including to the negative answer.
func (c *evalCache) getExact(key string) (rows []models.Dependable, ok bool) {
	if rows, ok = c.exact[key]; ok {
		return rows, true
	}
	for p, prows := range c.prefix {
		if !strings.HasPrefix(key, p) {
			continue
		}
		for _, row := range prows {
			if row.DependentKey() == key {
				return []models.Dependable{row}, true
			}
		}
		return nil, true
	}
	return nil, false
}

func (c *evalCache) putExact(key string, rows []models.Dependable) {
	if rows == nil {
		rows = []models.Dependable{}
	}
	c.exact[key] = rows
}

func (c *evalCache) getPrefix(key string) (rows []models.Dependable, ok bool) {
	rows, ok = c.prefix[key]
	return rows, ok
}

func (c *evalCache) putPrefix(key string, rows []models.Dependable) {
	if rows == nil {
		rows = []models.Dependable{}
	}
	c.prefix[key] = rows
}
