package linebatch

import (
	"database/sql"
	"os"
	"sync"

	"github.com/chararch/linebatch/internal/logs"
)

//log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set a logger instance for linebatch
func SetLogger(l logs.Logger) {
	if l == nil {
		panic("logger must not be nil")
	}
	logger = l
}

//task pool
const (
	DefaultJobPoolSize = 10
	//DefaultWorkers number of partitions executed at the same time by a partitioned step
	DefaultWorkers = 5
	//DefaultQueueCapacity number of partitions waiting for a worker before submission blocks
	DefaultQueueCapacity = 5
)

var (
	jobPoolMu sync.RWMutex
	jobPool   = mustTaskPool(DefaultJobPoolSize, DefaultJobPoolSize)
)

func mustTaskPool(size, queueCapacity int) *taskPool {
	pool, err := newTaskPool(size, queueCapacity)
	if err != nil {
		panic(err)
	}
	return pool
}

func currentJobPool() *taskPool {
	jobPoolMu.RLock()
	defer jobPoolMu.RUnlock()
	return jobPool
}

//SetMaxRunningJobs set max number of parallel jobs, jobs already running keep their slot in the old pool
func SetMaxRunningJobs(size int) {
	pool := mustTaskPool(size, size)
	jobPoolMu.Lock()
	old := jobPool
	jobPool = pool
	jobPoolMu.Unlock()
	go old.Release()
}

//repository
var repo JobRepository = NewMemoryRepository()

//SetRepository register the JobRepository used to store executions
func SetRepository(r JobRepository) {
	if r == nil {
		panic("repository must not be nil")
	}
	repo = r
}

//SetDB stores executions in sqlDb
func SetDB(sqlDb *sql.DB) {
	if sqlDb == nil {
		panic("sqlDb must not be nil")
	}
	repo = NewSQLRepository(sqlDb)
}

//transaction manager
var txManager = NewChunkTxManager()

//SetTransactionManager register a TransactionManager instance, e.g. NewTransactionManager(db) for writers using *sql.Tx
func SetTransactionManager(txMgr TransactionManager) {
	if txMgr == nil {
		panic("transaction manager must not be nil")
	}
	txManager = txMgr
}
