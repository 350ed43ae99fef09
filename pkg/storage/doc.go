/*
Package storage provides BoltDB-backed persistence for the outcome ledger.

The ledger keeps its working set in memory; when ledger_path is configured it
also writes every Attempt and Escalation through a Store so flapping
suppression and escalation latches survive a restart.

# Layout

	<ledger_path>  (single bbolt file)
	├── attempts      key: 8-byte big-endian unix nanos + attempt ID
	│                 value: JSON types.Attempt
	└── escalations   key: "<namespace>/<workload>|<category>"
	                  value: JSON types.Escalation

Attempt keys sort chronologically, so ListAttempts returns records in the
order they happened and DeleteAttemptsBefore compacts by walking the bucket
from the start until it reaches the cutoff.

# Transactions

Writes use db.Update (one writer at a time, fsync on commit); reads use
db.View and run concurrently. The ledger serializes its own appends, so the
store never sees competing writers from the same process.

# Usage

	store, err := storage.NewBoltStore("/var/lib/triage/ledger.db")
	if err != nil {
		return err
	}
	defer store.Close()

	l, err := ledger.New(ledger.Config{...}, store)
*/
package storage
