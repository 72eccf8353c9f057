package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketVersions     = []byte("versions")
	bucketVersionLists = []byte("version_lists")
	bucketProjects     = []byte("projects")
)

const DefaultCacheTTL = 30 * time.Minute

type cacheEntry struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// Cache wraps a Catalog with a BoltDB response cache.
type Cache struct {
	next Catalog
	db   *bolt.DB
	ttl  time.Duration
	now  func() time.Time
}

func NewCache(next Catalog, dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, "catalog.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketVersions, bucketVersionLists, bucketProjects} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{next: next, db: db, ttl: ttl, now: time.Now}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) GetVersions(ctx context.Context, projectID string, loaders, gameVersions []string) ([]Version, error) {
	key := projectID + "|" + strings.Join(loaders, ",") + "|" + strings.Join(gameVersions, ",")
	var versions []Version
	if c.get(bucketVersionLists, key, &versions) {
		return versions, nil
	}
	versions, err := c.next.GetVersions(ctx, projectID, loaders, gameVersions)
	if err != nil {
		return nil, err
	}
	c.set(bucketVersionLists, key, versions)
	return versions, nil
}

func (c *Cache) GetVersion(ctx context.Context, versionID string) (Version, error) {
	var v Version
	if c.get(bucketVersions, versionID, &v) {
		return v, nil
	}
	v, err := c.next.GetVersion(ctx, versionID)
	if err != nil {
		return Version{}, err
	}
	c.set(bucketVersions, versionID, v)
	return v, nil
}

func (c *Cache) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	if c.get(bucketProjects, projectID, &p) {
		return p, nil
	}
	p, err := c.next.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	c.set(bucketProjects, projectID, p)
	return p, nil
}

func (c *Cache) get(bucket []byte, key string, dest any) bool {
	var data []byte
	c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		return false
	}
	return json.Unmarshal(entry.Value, dest) == nil
}

func (c *Cache) set(bucket []byte, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	data, err := json.Marshal(cacheEntry{StoredAt: c.now(), Value: raw})
	if err != nil {
		return
	}
	c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}
