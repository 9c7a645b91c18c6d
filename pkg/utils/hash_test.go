package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashStringIsStable(t *testing.T) {
	assert.Equal(t, HashString("total revenue"), HashString("total revenue"))
	assert.NotEqual(t, HashString("total revenue"), HashString("total costs"))
	assert.Len(t, HashString("anything"), 32)
}

func TestFingerprintChangesWithSizeAndTime(t *testing.T) {
	now := time.Now()

	base := Fingerprint(100, now)
	assert.Equal(t, base, Fingerprint(100, now))
	assert.NotEqual(t, base, Fingerprint(101, now))
	assert.NotEqual(t, base, Fingerprint(100, now.Add(time.Nanosecond)))
}
