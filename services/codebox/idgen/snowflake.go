// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package idgen provides snowflake-style 64-bit identifiers.
//
// # Layout
//
//	| 41 bits ms since Epoch | 5 bits datacenter | 5 bits worker | 12 bits sequence |
//
// # Thread Safety
//
// Snowflake is safe for concurrent use. A single generator owns its clock
// state; create one per process (or per worker id).
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Epoch is the custom epoch, 2021-01-01T00:00:00Z, in Unix milliseconds.
const Epoch int64 = 1609459200000

const (
	datacenterBits = 5
	workerBits     = 5
	sequenceBits   = 12

	maxDatacenterID = -1 ^ (-1 << datacenterBits)
	maxWorkerID     = -1 ^ (-1 << workerBits)
	sequenceMask    = -1 ^ (-1 << sequenceBits)

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + workerBits
	timestampShift  = sequenceBits + workerBits + datacenterBits
)

// ErrIDOutOfRange is returned when a datacenter or worker id does not fit.
var ErrIDOutOfRange = errors.New("idgen: id out of range")

// Source hands out unique 64-bit identifiers.
type Source interface {
	NextID() int64
}

// Snowflake is a mutex-guarded snowflake generator.
type Snowflake struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64

	// now returns the current time in Unix milliseconds. Replaced in tests.
	now func() int64
}

// NewSnowflake creates a generator for the given datacenter and worker ids.
func NewSnowflake(datacenterID, workerID int64) (*Snowflake, error) {
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, fmt.Errorf("%w: datacenter %d (max %d)", ErrIDOutOfRange, datacenterID, maxDatacenterID)
	}
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("%w: worker %d (max %d)", ErrIDOutOfRange, workerID, maxWorkerID)
	}
	return &Snowflake{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// MustSnowflake is NewSnowflake that panics on invalid ids.
func MustSnowflake(datacenterID, workerID int64) *Snowflake {
	s, err := NewSnowflake(datacenterID, workerID)
	if err != nil {
		panic(err)
	}
	return s
}

// NextID returns the next identifier.
//
// When the wall clock moves backwards the call blocks until it has caught up
// with the last issued timestamp. When the per-millisecond sequence is
// exhausted the call blocks until the next millisecond.
func (s *Snowflake) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	if ts < s.lastTimestamp {
		ts = s.tilNextMillis(s.lastTimestamp)
	}

	if ts == s.lastTimestamp {
		s.sequence = (s.sequence + 1) & sequenceMask
		if s.sequence == 0 {
			ts = s.tilNextMillis(s.lastTimestamp)
		}
	} else {
		s.sequence = 0
	}

	s.lastTimestamp = ts
	return ((ts - Epoch) << timestampShift) |
		(s.datacenterID << datacenterShift) |
		(s.workerID << workerShift) |
		s.sequence
}

func (s *Snowflake) tilNextMillis(last int64) int64 {
	ts := s.now()
	for ts <= last {
		time.Sleep(100 * time.Microsecond)
		ts = s.now()
	}
	return ts
}

// Decompose splits an id into its timestamp and component ids.
func Decompose(id int64) (ts time.Time, datacenterID, workerID, sequence int64) {
	ms := (id >> timestampShift) + Epoch
	return time.UnixMilli(ms).UTC(),
		(id >> datacenterShift) & maxDatacenterID,
		(id >> workerShift) & maxWorkerID,
		id & sequenceMask
}
