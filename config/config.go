// Package config implements the three CUDA process-wide tunables named
// in spec.md §6, read once per process from the environment and
// memoized, the same style as the teacher's defaultPTCache in main.go.
package config

import (
	"os"
	"strconv"
	"sync"
)

// Tunables holds the pointwise loop level, CUDA block count, and block
// size. cudagen.LaunchGeometry reads BlockCount and BlockSize for the
// launch geometry of emitted CUDA source; the scheduler does not read
// them, and PointwiseLoopLevels has no reader in this module.
type Tunables struct {
	PointwiseLoopLevels int
	BlockCount          int
	BlockSize           int
}

var (
	once    sync.Once
	current Tunables
)

// Get returns the process-wide Tunables, computing them from the
// environment on first call and caching the result for the life of the
// process.
func Get() Tunables {
	once.Do(func() {
		current = Tunables{
			PointwiseLoopLevels: envInt("TEXC_CUDA_POINTWISE_LOOP_LEVELS", 2),
			BlockCount:          envInt("TEXC_CUDA_BLOCK_COUNT", 128),
			BlockSize:           envInt("TEXC_CUDA_BLOCK_SIZE", 256),
		}
	})
	return current
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
