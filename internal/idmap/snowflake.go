package idmap

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits     = 10
	sequenceBits = 12
	maxNode      = 1<<nodeBits - 1
	maxSequence  = 1<<sequenceBits - 1
	timeShift    = nodeBits + sequenceBits
)

// Epoch is the zero point of snowflake timestamps.
var Epoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator issues time-ordered IDs: 41 bits of milliseconds since Epoch,
// 10 bits of node and 12 bits of per-millisecond sequence. IDs from one
// Generator are strictly increasing even if the wall clock steps back, and
// never carry a timestamp ahead of the clock that was read when the
// millisecond was first used.
type Generator struct {
	mu     sync.Mutex
	node   int64
	lastMS int64
	seq    int64
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewGenerator returns a Generator for node, which must fit in 10 bits.
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > maxNode {
		return nil, fmt.Errorf("idmap: node id %d out of range [0, %d]", node, maxNode)
	}
	return &Generator{node: node, lastMS: -1, now: time.Now, sleep: time.Sleep}, nil
}

func (g *Generator) millis() int64 {
	ms := g.now().Sub(Epoch).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// Next returns the next ID. When the sequence of the current millisecond is
// exhausted it blocks until the clock passes that millisecond.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.millis()
	if ms <= g.lastMS {
		// Same millisecond or clock regression: stay on the last timestamp.
		ms = g.lastMS
		g.seq = (g.seq + 1) & maxSequence
		if g.seq == 0 {
			ms = g.waitPast(g.lastMS)
		}
	} else {
		g.seq = 0
	}
	g.lastMS = ms
	return ms<<timeShift | g.node<<sequenceBits | g.seq
}

// waitPast sleeps until the clock reads a millisecond after last.
func (g *Generator) waitPast(last int64) int64 {
	for {
		ms := g.millis()
		if ms > last {
			return ms
		}
		g.sleep(time.Duration(last-ms+1) * time.Millisecond)
	}
}

// Timestamp extracts the creation time encoded in a time-ordered ID.
func Timestamp(id int64) time.Time {
	return Epoch.Add(time.Duration(id>>timeShift) * time.Millisecond)
}
