package httpapi

import (
	"sync"
	"time"
)

// Metrics collects ingestion counters for the /metrics endpoint. It
// satisfies application.IngestObserver so the ingester can report into it
// without importing this package.
type Metrics struct {
	mu             sync.RWMutex
	startTime      time.Time
	latestBlock    uint64
	lastIngested   uint64
	lastBlockTxs   int
	blocksIngested uint64
	cyclesSkipped  uint64
	cycleErrors    uint64
	txsIngested    uint64
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = block
}

func (m *Metrics) OnBlockIngested(block uint64, txCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIngested = block
	m.lastBlockTxs = txCount
	m.blocksIngested++
	m.txsIngested += uint64(txCount)
}

func (m *Metrics) OnCycleSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cyclesSkipped++
}

func (m *Metrics) OnCycleError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleErrors++
}

type Snapshot struct {
	StartTime      time.Time
	LatestBlock    uint64
	LastIngested   uint64
	LastBlockTxs   int
	BlocksIngested uint64
	CyclesSkipped  uint64
	CycleErrors    uint64
	TxsIngested    uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:      m.startTime,
		LatestBlock:    m.latestBlock,
		LastIngested:   m.lastIngested,
		LastBlockTxs:   m.lastBlockTxs,
		BlocksIngested: m.blocksIngested,
		CyclesSkipped:  m.cyclesSkipped,
		CycleErrors:    m.cycleErrors,
		TxsIngested:    m.txsIngested,
	}
}
