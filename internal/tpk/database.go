package tpk

import (
	"sort"
	"sync"
	"time"

	"github.com/eichs/unityfs/internal/metrics"
	"github.com/eichs/unityfs/internal/typetree"
	"github.com/pkg/errors"
)

// ErrSchemaUnavailable is returned when the database has no definition of
// a class at the requested version.
var ErrSchemaUnavailable = errors.New("tpk: schema unavailable")

// maxTreeNodes bounds tree construction on a corrupt node graph.
const maxTreeNodes = 1 << 20

type versionKey struct {
	classID int32
	version uint64
}

// Cache memoizes built trees. Entries are keyed both by (class, version)
// and by the resolved class definition, so classes that share a definition
// share one tree. Trees handed out are shared and must not be modified.
type Cache struct {
	mu        sync.Mutex
	byVersion map[versionKey]*typetree.Node
	byClass   map[Class]*typetree.Node
}

func NewCache() *Cache {
	return &Cache{
		byVersion: make(map[versionKey]*typetree.Node),
		byClass:   make(map[Class]*typetree.Node),
	}
}

// Len returns the number of (class, version) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byVersion)
}

// Database answers schema lookups from a parsed type tree blob.
type Database struct {
	blob    *Blob
	classes map[int32][]ClassEntry
	cache   *Cache
	metrics *metrics.Registry
}

// NewDatabase indexes b. A nil cache gets a private one.
func NewDatabase(b *Blob, cache *Cache) *Database {
	if cache == nil {
		cache = NewCache()
	}
	db := &Database{
		blob:    b,
		classes: make(map[int32][]ClassEntry, len(b.Classes)),
		cache:   cache,
	}
	for _, ci := range b.Classes {
		entries := append([]ClassEntry(nil), ci.Entries...)
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Version.Less(entries[j].Version) })
		db.classes[ci.ID] = entries
	}
	return db
}

// SetMetrics makes lookups report to m.
func (db *Database) SetMetrics(m *metrics.Registry) { db.metrics = m }

func (db *Database) Blob() *Blob { return db.blob }

// Versions returns every engine version known to the database.
func (db *Database) Versions() []Version { return db.blob.Versions }

// CreationTime decodes the .NET binary timestamp the database was built at.
func (db *Database) CreationTime() time.Time {
	const (
		ticksMask       = 0x3FFFFFFFFFFFFFFF
		ticksAtUnixZero = 621355968000000000
	)
	ticks := db.blob.CreationTime & ticksMask
	return time.Unix(0, (ticks-ticksAtUnixZero)*100).UTC()
}

// ClassIDs returns the known class ids in ascending order.
func (db *Database) ClassIDs() []int32 {
	ids := make([]int32, 0, len(db.classes))
	for id := range db.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Entries returns the version history of a class.
func (db *Database) Entries(classID int32) []ClassEntry { return db.classes[classID] }

func (db *Database) str(i uint16) string {
	if int(i) < len(db.blob.Strings) {
		return db.blob.Strings[i]
	}
	return ""
}

// ClassName returns the name of a class definition.
func (db *Database) ClassName(c *Class) string { return db.str(c.Name) }

// BaseName returns the base class name of a class definition.
func (db *Database) BaseName(c *Class) string { return db.str(c.Base) }

// LookupClass returns the definition in effect at v: the latest entry whose
// version is not newer than v.
func (db *Database) LookupClass(classID int32, v Version) (*Class, error) {
	entries := db.classes[classID]
	target := v.Pack()
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Version.Pack() > target })
	if i == 0 {
		return nil, errors.Wrapf(ErrSchemaUnavailable, "class %d before %s", classID, v)
	}
	c := entries[i-1].Class
	if c == nil {
		return nil, errors.Wrapf(ErrSchemaUnavailable, "class %d removed at %s", classID, entries[i-1].Version)
	}
	return c, nil
}

// Lookup returns the type tree of a class at engine version v.
func (db *Database) Lookup(classID int32, v Version) (*typetree.Node, error) {
	key := versionKey{classID, v.Pack()}

	db.cache.mu.Lock()
	defer db.cache.mu.Unlock()

	if t, ok := db.cache.byVersion[key]; ok {
		db.metrics.RecordSchemaLookup("hit")
		return t, nil
	}
	c, err := db.LookupClass(classID, v)
	if err != nil {
		db.metrics.RecordSchemaLookup("unavailable")
		return nil, err
	}
	if t, ok := db.cache.byClass[*c]; ok {
		db.cache.byVersion[key] = t
		db.metrics.RecordSchemaLookup("hit")
		return t, nil
	}
	root, ok := c.Root()
	if !ok {
		db.metrics.RecordSchemaLookup("unavailable")
		return nil, errors.Wrapf(ErrSchemaUnavailable, "class %d (%s) has no root node", classID, db.ClassName(c))
	}
	t, err := db.buildTree(root)
	if err != nil {
		return nil, errors.Wrapf(err, "build class %d (%s)", classID, db.ClassName(c))
	}
	db.cache.byClass[*c] = t
	db.cache.byVersion[key] = t
	db.metrics.RecordSchemaLookup("miss")
	return t, nil
}

// buildTree walks the node graph from root in field order, tagging every
// node with its depth, and links the result with typetree.Rebuild.
func (db *Database) buildTree(root uint16) (*typetree.Node, error) {
	type item struct {
		idx   uint16
		level int
	}
	var flat []*typetree.Node
	stack := []item{{root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(it.idx) >= len(db.blob.Nodes) {
			return nil, errors.Errorf("tpk: node index %d out of range", it.idx)
		}
		if len(flat) >= maxTreeNodes {
			return nil, errors.New("tpk: node graph too large (cycle?)")
		}
		n := db.blob.Nodes[it.idx]
		flat = append(flat, &typetree.Node{
			Level:     it.level,
			Type:      db.str(n.TypeName),
			Name:      db.str(n.Name),
			ByteSize:  n.ByteSize,
			Version:   int32(n.Version),
			TypeFlags: int32(n.TypeFlags),
			Index:     int32(len(flat)),
			MetaFlag:  n.MetaFlag,
		})
		for i := len(n.SubNodes) - 1; i >= 0; i-- {
			stack = append(stack, item{n.SubNodes[i], it.level + 1})
		}
	}
	return typetree.Rebuild(flat)
}

// CommonStrings returns the engine's shared string table as of v, or nil
// when the database has no entry that old.
func (db *Database) CommonStrings(v Version) *typetree.CommonStrings {
	info := db.blob.CommonStrings
	target := v.Pack()
	count := -1
	for _, cv := range info.Versions {
		if cv.Version.Pack() > target {
			break
		}
		count = int(cv.Count)
	}
	if count < 0 {
		return nil
	}
	count = min(count, len(info.Indices))
	list := make([]string, count)
	for i := range list {
		list[i] = db.str(info.Indices[i])
	}
	return typetree.NewCommonStrings(list)
}

var (
	defaultMu sync.RWMutex
	defaultDB *Database
)

// SetDefault installs the process-wide database.
func SetDefault(db *Database) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultDB = db
}

// Default returns the process-wide database, or nil if none was loaded.
func Default() *Database {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultDB
}
