package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestSpecialOffer_ActiveAt(t *testing.T) {
	until := day(2026, 3, 10)
	o := SpecialOffer{ValidFrom: day(2026, 3, 1), ValidUntil: &until}

	assert.False(t, o.ActiveAt(day(2026, 2, 28)))
	assert.True(t, o.ActiveAt(day(2026, 3, 1)))
	assert.True(t, o.ActiveAt(until.Add(-time.Second)))
	assert.False(t, o.ActiveAt(until))

	open := SpecialOffer{ValidFrom: day(2026, 3, 1)}
	assert.True(t, open.ActiveAt(day(2030, 1, 1)))
}

func TestSpecialOffer_Overlaps(t *testing.T) {
	mar10 := day(2026, 3, 10)
	mar20 := day(2026, 3, 20)
	a := SpecialOffer{ValidFrom: day(2026, 3, 1), ValidUntil: &mar10}
	b := SpecialOffer{ValidFrom: mar10, ValidUntil: &mar20}
	c := SpecialOffer{ValidFrom: day(2026, 3, 5)}
	d := SpecialOffer{ValidFrom: day(2026, 4, 1)}

	assert.False(t, a.Overlaps(b), "half-open windows touching at an edge")
	assert.False(t, b.Overlaps(a))
	assert.True(t, a.Overlaps(c))
	assert.True(t, c.Overlaps(d), "two open-ended offers always overlap")
	assert.False(t, b.Overlaps(d))
}

func TestElapsed(t *testing.T) {
	expiry := day(2026, 5, 1)
	assert.False(t, Elapsed(expiry, expiry.Add(23*time.Hour)))
	assert.True(t, Elapsed(expiry, day(2026, 5, 2)))
	assert.False(t, Elapsed(expiry, day(2026, 4, 30)))
}
