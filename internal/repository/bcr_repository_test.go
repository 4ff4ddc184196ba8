package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBCRCode(t *testing.T) {
	tests := []struct {
		name   string
		number int64
		at     time.Time
		want   string
	}{
		{"start of fiscal year", 1, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), "BCR-25/26-001"},
		{"mid fiscal year", 42, time.Date(2025, time.August, 31, 12, 0, 0, 0, time.UTC), "BCR-25/26-042"},
		{"january belongs to previous fiscal year", 7, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), "BCR-25/26-007"},
		{"end of fiscal year", 999, time.Date(2026, time.March, 31, 23, 59, 0, 0, time.UTC), "BCR-25/26-999"},
		{"rolls over in april", 1, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), "BCR-26/27-001"},
		{"number wider than padding", 1234, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), "BCR-25/26-1234"},
		{"century boundary", 3, time.Date(2099, time.December, 1, 0, 0, 0, 0, time.UTC), "BCR-99/00-003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBCRCode(tt.number, tt.at))
		})
	}
}

func TestSubmissionDeleted(t *testing.T) {
	sub := &Submission{}
	assert.False(t, sub.Deleted())

	now := time.Now()
	sub.DeletedAt = &now
	assert.True(t, sub.Deleted())
}
