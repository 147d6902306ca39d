package presence

import (
	"testing"
	"time"

	"github.com/goodtune/patrol/internal/storage"
)

func TestSplitByMonth(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  []storage.MonthSlice
	}{
		{
			name:  "within one month",
			start: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
			want:  []storage.MonthSlice{{Year: 2024, Month: 3, TotalMs: 3600000}},
		},
		{
			name:  "across month boundary",
			start: time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC),
			end:   time.Date(2024, 2, 1, 0, 1, 0, 0, time.UTC),
			want: []storage.MonthSlice{
				{Year: 2024, Month: 1, TotalMs: 60000},
				{Year: 2024, Month: 2, TotalMs: 60000},
			},
		},
		{
			name:  "across year boundary",
			start: time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
			want: []storage.MonthSlice{
				{Year: 2023, Month: 12, TotalMs: 3600000},
				{Year: 2024, Month: 1, TotalMs: 3600000},
			},
		},
		{
			name:  "spans a whole month",
			start: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC),
			want: []storage.MonthSlice{
				{Year: 2024, Month: 1, TotalMs: 86400000},
				{Year: 2024, Month: 2, TotalMs: 29 * 86400000},
				{Year: 2024, Month: 3, TotalMs: 1000},
			},
		},
		{
			name:  "ends exactly on boundary",
			start: time.Date(2024, 4, 30, 23, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			want:  []storage.MonthSlice{{Year: 2024, Month: 4, TotalMs: 3600000}},
		},
		{
			name:  "non-UTC input is split in UTC",
			start: time.Date(2024, 2, 1, 9, 30, 0, 0, time.FixedZone("AEST", 10*3600)),
			end:   time.Date(2024, 2, 1, 10, 30, 0, 0, time.FixedZone("AEST", 10*3600)),
			want: []storage.MonthSlice{
				{Year: 2024, Month: 1, TotalMs: 1800000},
				{Year: 2024, Month: 2, TotalMs: 1800000},
			},
		},
		{
			name:  "empty interval",
			start: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitByMonth(tt.start, tt.end)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d slices, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Slice %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestBuildAccrual_TotalMatchesSlices(t *testing.T) {
	session := Session{
		GuildID:   "g1",
		UserID:    "u1",
		ChannelID: "c1",
		StartedAt: time.Date(2024, 1, 31, 23, 59, 59, 999000000, time.UTC),
	}
	end := time.Date(2024, 2, 1, 0, 0, 0, 1000000, time.UTC)

	accrual := buildAccrual(session, end)

	var sum uint64
	for _, slice := range accrual.Months {
		sum += slice.TotalMs
	}
	if accrual.TotalMs != sum {
		t.Errorf("Expected total %d to equal slice sum %d", accrual.TotalMs, sum)
	}
	if accrual.TotalMs != 2 {
		t.Errorf("Expected 2ms, got %d", accrual.TotalMs)
	}
	if accrual.ChannelID != "c1" {
		t.Errorf("Expected channel c1, got %s", accrual.ChannelID)
	}
}
