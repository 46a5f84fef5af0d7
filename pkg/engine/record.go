package engine

import (
	"time"

	"blackbox/pkg/snapshot"
)

// Record is a reconstructed snapshot as it flows from a decoder to consumers.
type Record struct {
	Seq       uint64
	Timestamp time.Time
	Snapshot  snapshot.Snapshot
	// Delta is the payload of the frame that produced Snapshot.
	Delta []byte
	// Degraded marks a snapshot rebuilt after a frame was lost. Fields that
	// changed in the lost frame may hold stale values.
	Degraded bool
}
