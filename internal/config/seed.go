package config

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// ResolveSeed returns the configured seed, or a fresh one from crypto/rand
// when RandomSeed is set.
func (c Config) ResolveSeed() (uint64, error) {
	if !c.RandomSeed {
		return c.Seed, nil
	}
	return newSeed()
}

func newSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
