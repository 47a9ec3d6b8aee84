// Package model holds the broker's persisted domain entities — cluster,
// node, topic, partition, ledger and subscription — and the pure
// behavior attached to them (message-id allocation, ledger ownership
// checks, subscription delivery state machines). Every type here is
// msgpack-serializable: it is what internal/data loads, mutates and
// saves back through internal/persistence's versioned entity store.
package model

import (
	"github.com/sawpanic/pulsarbroker/internal/ids"
)

// Default ports a freshly discovered node advertises on, mirroring the
// source cluster's DEFAULT_ADMIN_PORT / DEFAULT_PUBSUB_PORT / DEFAULT_SYNC_PORT.
const (
	DefaultAdminPort  ids.PortNumber = 7100
	DefaultPubSubPort ids.PortNumber = 7101
	DefaultSyncPort   ids.PortNumber = 7102
)

// Cluster is the single top-level entity: the set of known nodes and the
// topic namespace. There is exactly one Cluster entity, keyed "cluster".
type Cluster struct {
	Name     string        `msgpack:"name" json:"name"`
	NodeIds  []ids.NodeId  `msgpack:"node_ids" json:"node_ids"`
	TopicIds []ids.TopicId `msgpack:"topic_ids" json:"topic_ids"`
}

func (c *Cluster) HasNode(id ids.NodeId) bool {
	for _, n := range c.NodeIds {
		if n == id {
			return true
		}
	}
	return false
}

// AddNode adds id if not already present, returning whether it changed
// the cluster (for use as the mutator passed to data.Update).
func (c *Cluster) AddNode(id ids.NodeId) bool {
	if c.HasNode(id) {
		return false
	}
	c.NodeIds = append(c.NodeIds, id)
	return true
}

func (c *Cluster) HasTopic(id ids.TopicId) bool {
	for _, t := range c.TopicIds {
		if t == id {
			return true
		}
	}
	return false
}

func (c *Cluster) AddTopic(id ids.TopicId) bool {
	if c.HasTopic(id) {
		return false
	}
	c.TopicIds = append(c.TopicIds, id)
	return true
}

func (c *Cluster) RemoveTopic(id ids.TopicId) bool {
	for i, t := range c.TopicIds {
		if t == id {
			c.TopicIds = append(c.TopicIds[:i], c.TopicIds[i+1:]...)
			return true
		}
	}
	return false
}

// Node is one broker process in the cluster: its network address and the
// ports it advertises for the admin API, pub/sub transport and inter-node
// sync channel.
type Node struct {
	Id         ids.NodeId     `msgpack:"id" json:"id"`
	Address    string         `msgpack:"address" json:"address"`
	AdminPort  ids.PortNumber `msgpack:"admin_port" json:"admin_port"`
	PubSubPort ids.PortNumber `msgpack:"pubsub_port" json:"pubsub_port"`
	SyncPort   ids.PortNumber `msgpack:"sync_port" json:"sync_port"`
	LastSeen   ids.Timestamp  `msgpack:"last_seen" json:"last_seen"`
}

// RefreshStatus stamps LastSeen with now, matching the source's periodic
// node heartbeat. Always returns true: a heartbeat always advances state.
func (n *Node) RefreshStatus(now ids.Timestamp) bool {
	n.LastSeen = now
	return true
}
