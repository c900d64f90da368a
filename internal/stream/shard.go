// Package stream maintains the live WebSocket view of pool activity:
// sharded log subscriptions, head tracking, session rebuilds and gap
// backfill.
package stream

import "github.com/ethereum/go-ethereum/common"

// ShardAddresses splits addresses across n shards round-robin. Order
// within a shard follows input order, so the split is deterministic.
func ShardAddresses(addrs []common.Address, n int) [][]common.Address {
	if n <= 1 || len(addrs) <= 1 {
		if len(addrs) == 0 {
			return nil
		}
		return [][]common.Address{addrs}
	}
	if n > len(addrs) {
		n = len(addrs)
	}

	shards := make([][]common.Address, n)
	for i, addr := range addrs {
		shards[i%n] = append(shards[i%n], addr)
	}
	return shards
}
