// Package idgenerator hands out session identifiers.
package idgenerator

import "sync/atomic"

// IdGenerator returns monotonically increasing uint32 ids and is safe for
// concurrent use. The first Id() returns the start value plus one, so a
// generator started at 0 never hands out 0 and callers may treat 0 as "no
// session".
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first id is startValue+1.
//
// Parameters:
//   - startValue: The last id considered already used
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. It wraps around after the maximum uint32.
func (g *IdGenerator) Id() uint32 {
	return g.id.Add(1)
}
