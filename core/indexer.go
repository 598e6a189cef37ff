// Component J: Indexer.
//
// Bulk sync path: streams historical blocks from the block store and
// applies them in order (spec §4.J).
package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const indexerBatchSize = 100
const indexerProgressLogInterval = 1000

// Indexer drives catch-up sync ahead of serving live RPC traffic.
type Indexer struct {
	controller *Controller
	blockStore *RPCClient
	log        logrus.FieldLogger
}

func NewIndexer(controller *Controller, blockStore *RPCClient, log logrus.FieldLogger) *Indexer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Indexer{controller: controller, blockStore: blockStore, log: log}
}

// BlockFetcher abstracts the block_store's get_blocks_by_height RPC (spec
// §6); supplied by the caller since the concrete wire protocol to that
// service is an external collaborator (spec §1).
type BlockFetcher func(ctx context.Context, fromHeight uint64, count int) ([]*Block, error)

// HighestKnownBlockFn abstracts block_store's get_highest_block RPC.
type HighestKnownBlockFn func(ctx context.Context) (uint64, error)

// Run asks the block store for its highest-known block; if that exceeds the
// local head, requests blocks in fixed-size batches by height and feeds
// them sequentially into apply_block with intent block_application.
// Any error aborts the catch-up and is returned to the caller; Run itself
// does not terminate the process. Intermediate progress is
// logged every indexerProgressLogInterval blocks (spec §4.J).
func (idx *Indexer) Run(ctx context.Context, highest HighestKnownBlockFn, fetch BlockFetcher) error {
	target, err := highest(ctx)
	if err != nil {
		return ErrRPCPeerError("block_store", err)
	}
	head, err := idx.controller.GetHeadInfo()
	if err != nil {
		return err
	}
	if target <= head.Height {
		return nil
	}

	from := head.Height + 1
	applied := uint64(0)
	for from <= target {
		count := indexerBatchSize
		if remaining := target - from + 1; remaining < uint64(count) {
			count = int(remaining)
		}
		blocks, err := fetch(ctx, from, count)
		if err != nil {
			return ErrRPCPeerError("block_store", err)
		}
		for _, b := range blocks {
			if _, err := idx.controller.SubmitBlock(ctx, b, time.UnixMilli(b.Header.Timestamp), IntentBlockApplication); err != nil {
				return err
			}
			applied++
			if applied%indexerProgressLogInterval == 0 {
				idx.log.WithField("height", b.Header.Height).Info("indexer: catch-up progress")
			}
		}
		from += uint64(len(blocks))
		if len(blocks) == 0 {
			break // no more blocks available from this batch
		}
	}
	return nil
}
