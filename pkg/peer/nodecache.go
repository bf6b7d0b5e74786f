package peer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AttributeValue is a cached attribute read, keyed by "endpoint/cluster/attribute".
type AttributeValue struct {
	EndpointID  uint16
	ClusterID   uint32
	AttributeID uint32
	Name        string
	Value       any
}

// ClusterVersion is a cached cluster data version, keyed by "endpoint/cluster".
type ClusterVersion struct {
	EndpointID  uint16
	ClusterID   uint32
	DataVersion uint32
}

// NodeCachedData is the per-peer in-memory cache of attribute values and
// cluster data versions that survives reconnect across a resumed CASE
// session. On a CASE session that was NOT resumed, the cache for that peer
// MUST be dropped before any read returns. See NodeCache.Drop.
type NodeCachedData struct {
	mu                  sync.RWMutex
	attributeValues     map[string]AttributeValue
	clusterDataVersions map[string]ClusterVersion
	maxEventNumber      uint64
	hasMaxEventNumber   bool
}

func newNodeCachedData() *NodeCachedData {
	return &NodeCachedData{
		attributeValues:     make(map[string]AttributeValue),
		clusterDataVersions: make(map[string]ClusterVersion),
	}
}

// SetAttribute records an attribute value read.
func (n *NodeCachedData) SetAttribute(key string, v AttributeValue) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attributeValues[key] = v
}

// Attribute returns the cached value for key, if any.
func (n *NodeCachedData) Attribute(key string) (AttributeValue, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.attributeValues[key]
	return v, ok
}

// SetClusterVersion records a cluster data version.
func (n *NodeCachedData) SetClusterVersion(key string, v ClusterVersion) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clusterDataVersions[key] = v
}

// ClusterVersion returns the cached version for key, if any.
func (n *NodeCachedData) ClusterVersion(key string) (ClusterVersion, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.clusterDataVersions[key]
	return v, ok
}

// IsEmpty reports whether the cache holds nothing.
func (n *NodeCachedData) IsEmpty() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.attributeValues) == 0 && len(n.clusterDataVersions) == 0 && !n.hasMaxEventNumber
}

// NodeCache fronts one NodeCachedData per peer behind a bounded LRU so
// cache growth under unbounded peer churn is self-limiting, the same
// grounding as the front cache in store.go.
type NodeCache struct {
	cache *lru.Cache[*Address, *NodeCachedData]
}

// DefaultNodeCacheSize is the default number of peers whose attribute cache
// is retained simultaneously.
const DefaultNodeCacheSize = 128

// NewNodeCache creates an empty node cache.
func NewNodeCache() *NodeCache {
	c, _ := lru.New[*Address, *NodeCachedData](DefaultNodeCacheSize)
	return &NodeCache{cache: c}
}

// Get returns (creating if absent) the NodeCachedData for addr.
func (c *NodeCache) Get(addr *Address) *NodeCachedData {
	if v, ok := c.cache.Get(addr); ok {
		return v
	}
	v := newNodeCachedData()
	c.cache.Add(addr, v)
	return v
}

// Drop discards the cache for addr. Called by the pairing driver whenever a
// CASE session for that peer was NOT resumed, per the cache invariant.
func (c *NodeCache) Drop(addr *Address) {
	c.cache.Remove(addr)
}
