// Package testutil provides shared test utilities and synthetic frames.
//
// This package centralises frame fixtures used by the model, morphology and
// pipeline tests so each suite builds inputs the same way.
package testutil

import (
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ConstantFrame returns a rows×cols frame with every channel set to v.
func ConstantFrame(rows, cols, channels int, v byte) []byte {
	f := make([]byte, rows*cols*channels)
	for i := range f {
		f[i] = v
	}
	return f
}

// ColorFrame returns a rows×cols RGB frame filled with one colour.
func ColorFrame(rows, cols int, r, g, b byte) []byte {
	f := make([]byte, rows*cols*3)
	for i := 0; i < rows*cols; i++ {
		f[3*i], f[3*i+1], f[3*i+2] = r, g, b
	}
	return f
}

// SplitFrame returns a single-channel frame whose columns below split hold
// left and the remaining columns hold right.
func SplitFrame(rows, cols, split int, left, right byte) []byte {
	f := make([]byte, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c < split {
				f[r*cols+c] = left
			} else {
				f[r*cols+c] = right
			}
		}
	}
	return f
}

// NoisyFrame returns a single-channel frame around base with a small
// deterministic per-pixel perturbation in [-amp, amp] that changes with seed.
func NoisyFrame(rows, cols int, base byte, amp, seed int) []byte {
	f := make([]byte, rows*cols)
	span := 2*amp + 1
	for i := range f {
		// Cheap integer hash; stable across platforms.
		h := (i*73856093 ^ seed*19349663) & 0x7fffffff
		v := int(base) + h%span - amp
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		f[i] = byte(v)
	}
	return f
}

// CountNonZero returns the number of non-zero bytes in mask.
func CountNonZero(mask []byte) int {
	n := 0
	for _, v := range mask {
		if v != 0 {
			n++
		}
	}
	return n
}

// RectMask returns a rows×cols mask with the inclusive rectangle
// [r0,r1]×[c0,c1] set to 255.
func RectMask(rows, cols, r0, c0, r1, c1 int) []byte {
	m := make([]byte, rows*cols)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			m[r*cols+c] = 255
		}
	}
	return m
}
