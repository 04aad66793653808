package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCryptoSource_IntnRange(t *testing.T) {
	src := NewCryptoSource()
	for i := 0; i < 100; i++ {
		v := src.Intn(10)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 10)
	}
}

func TestCryptoSource_IntnPanicsOnZero(t *testing.T) {
	src := NewCryptoSource()
	assert.Panics(t, func() { src.Intn(0) })
	assert.Panics(t, func() { src.Intn(-5) })
}

func TestCryptoSource_Float64Range(t *testing.T) {
	src := NewCryptoSource()
	for i := 0; i < 100; i++ {
		v := src.Float64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestSeeded_Deterministic(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Intn(1000), b.Intn(1000))
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestInRange(t *testing.T) {
	src := NewSeeded(1)
	for i := 0; i < 100; i++ {
		v := InRange(src, 0.8, 1.2)
		assert.GreaterOrEqual(t, v, 0.8)
		assert.Less(t, v, 1.2)
	}
}

func TestInRange_DegenerateBounds(t *testing.T) {
	src := NewSeeded(1)
	assert.Equal(t, 1.0, InRange(src, 1.0, 1.0))
}
