package executor

import (
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/merger"
)

// minShardLines is the smallest range worth its own goroutine.
var minShardLines = 4096

type shardResult struct {
	top    []merger.Scored
	scored int
	early  bool
}

// fullScan scores every line in [first, last]. Large ranges are split into
// up to ScanShards contiguous shards scored concurrently. The merged result
// is the one a single ascending scan would produce: the top anchors, the
// number of lines scored and whether a line reached EarlyExit.
func (e *Executor) fullScan(query string, first, last int) ([]merger.Scored, int, bool) {
	n := last - first + 1
	shards := min(e.params.ScanShards, n/minShardLines)
	if shards <= 1 {
		r := e.scanRange(query, first, last, -1, nil)
		return r.top, r.scored, r.early
	}
	return e.scanSharded(query, first, last, shards)
}

func (e *Executor) scanSharded(query string, first, last, shards int) ([]merger.Scored, int, bool) {
	n := last - first + 1
	size := (n + shards - 1) / shards

	// Lowest shard index that hit EarlyExit. Later shards can stop: nothing
	// past that line is part of the answer.
	var earliest atomic.Int64
	earliest.Store(int64(shards))

	results := make([]shardResult, shards)
	var wg sync.WaitGroup
	for i := 0; i < shards; i++ {
		lo := first + i*size
		hi := min(lo+size-1, last)
		if lo > hi {
			continue
		}
		wg.Add(1)
		go func(idx, lo, hi int) {
			defer wg.Done()
			results[idx] = e.scanRange(query, lo, hi, idx, &earliest)
		}(i, lo, hi)
	}
	wg.Wait()

	lists := make([][]merger.Scored, 0, shards)
	scored := 0
	for _, r := range results {
		lists = append(lists, r.top)
		scored += r.scored
		if r.early {
			e.logger.Debug("full scan stopped early", "shards", shards, "scored", scored)
			return merger.Merge(lists, e.params.MaxAnchors), scored, true
		}
	}
	return merger.Merge(lists, e.params.MaxAnchors), scored, false
}

// scanRange scores [lo, hi] in ascending order. With a non-nil earliest it
// gives up once a lower shard has reached EarlyExit and records its own
// index when it does.
func (e *Executor) scanRange(query string, lo, hi, idx int, earliest *atomic.Int64) shardResult {
	top := merger.NewTopK(e.params.MaxAnchors)
	var r shardResult
	for id := lo; id <= hi; id++ {
		if earliest != nil && earliest.Load() < int64(idx) {
			break
		}
		s := e.scorer.Score(query, e.corpus.Text(id))
		r.scored++
		top.Push(merger.Scored{LineID: id, Score: s})
		if s >= e.params.EarlyExit {
			r.early = true
			if earliest != nil {
				for {
					cur := earliest.Load()
					if cur <= int64(idx) || earliest.CompareAndSwap(cur, int64(idx)) {
						break
					}
				}
			}
			break
		}
	}
	r.top = top.Results()
	return r
}
