package borg

import (
	"fmt"
	"testing"
	"time"
)

func TestParseArchiveList(t *testing.T) {
	data := []byte(`{
		"archives": [
			{"name": "linux-backup-20250101_00-00-00", "time": "2025-01-01T00:00:00.000000"},
			{"name": "linux-backup-20250102_00-00-00", "time": "2025-01-02T00:00:00.000000"}
		]
	}`)

	archives, err := parseArchiveList(data)
	if err != nil {
		t.Fatalf("parseArchiveList: %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("len = %d, want 2", len(archives))
	}
	if archives[0].Name != "linux-backup-20250101_00-00-00" {
		t.Errorf("name = %q", archives[0].Name)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	if !archives[0].Time.Equal(want) {
		t.Errorf("time = %v, want %v", archives[0].Time, want)
	}
}

func TestParseArchiveListInvalid(t *testing.T) {
	if _, err := parseArchiveList([]byte("not json")); err == nil {
		t.Error("expected error for invalid json")
	}
	if _, err := parseArchiveList([]byte(`{"archives":[{"name":"a","time":"yesterday"}]}`)); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func dailyArchives(now time.Time, count int) []Archive {
	archives := make([]Archive, count)
	for i := 0; i < count; i++ {
		ts := now.AddDate(0, 0, -i)
		archives[i] = Archive{Name: fmt.Sprintf("backup-%03d", i), Time: ts}
	}
	return archives
}

func TestClassifyFewerThanKeepCountsKeepsAll(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	archives := dailyArchives(now, 3)

	classification := ClassifyArchivesGFS(archives, 7, 4, 6, 2, now)
	for name, cat := range classification {
		if cat == CategoryDelete {
			t.Errorf("archive %s marked for deletion although fewer archives exist than KeepDaily", name)
		}
	}
}

func TestClassifyDailyTierTakesNewest(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	archives := dailyArchives(now, 10)

	classification := ClassifyArchivesGFS(archives, 3, 0, 0, 0, now)
	stats := RetentionStats(classification)
	if stats[CategoryDaily] != 3 {
		t.Errorf("daily = %d, want 3", stats[CategoryDaily])
	}
	if stats[CategoryDelete] != 7 {
		t.Errorf("delete = %d, want 7", stats[CategoryDelete])
	}
	// The newest three are the dailies.
	for _, name := range []string{"backup-000", "backup-001", "backup-002"} {
		if classification[name] != CategoryDaily {
			t.Errorf("%s = %s, want daily", name, classification[name])
		}
	}
}

func TestClassifyCurrentWeekExcludedFromWeeklyTier(t *testing.T) {
	// A Wednesday; two archives earlier the same ISO week, one the week before.
	now := time.Date(2025, 6, 18, 12, 0, 0, 0, time.Local)
	archives := []Archive{
		{Name: "this-week-1", Time: now.AddDate(0, 0, -1)},
		{Name: "this-week-2", Time: now.AddDate(0, 0, -2)},
		{Name: "last-week", Time: now.AddDate(0, 0, -7)},
	}

	classification := ClassifyArchivesGFS(archives, 0, 4, 0, 0, now)
	if classification["this-week-1"] != CategoryDelete || classification["this-week-2"] != CategoryDelete {
		t.Error("archives from the still-running ISO week must not occupy a weekly slot")
	}
	if classification["last-week"] != CategoryWeekly {
		t.Errorf("last-week = %s, want weekly", classification["last-week"])
	}
}

func TestClassifyOnePerWeekMonthYear(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	archives := []Archive{
		// Two in the same past week: only one weekly slot.
		{Name: "week-a", Time: time.Date(2025, 6, 2, 1, 0, 0, 0, time.Local)},
		{Name: "week-b", Time: time.Date(2025, 6, 3, 1, 0, 0, 0, time.Local)},
		// Two in the same past month: only one monthly slot.
		{Name: "month-a", Time: time.Date(2025, 3, 10, 1, 0, 0, 0, time.Local)},
		{Name: "month-b", Time: time.Date(2025, 3, 20, 1, 0, 0, 0, time.Local)},
		// Past year.
		{Name: "year-a", Time: time.Date(2024, 8, 1, 1, 0, 0, 0, time.Local)},
	}

	classification := ClassifyArchivesGFS(archives, 0, 1, 1, 1, now)
	stats := RetentionStats(classification)
	if stats[CategoryWeekly] != 1 {
		t.Errorf("weekly = %d, want 1", stats[CategoryWeekly])
	}
	if stats[CategoryMonthly] != 1 {
		t.Errorf("monthly = %d, want 1", stats[CategoryMonthly])
	}
	if stats[CategoryYearly] != 1 {
		t.Errorf("yearly = %d, want 1", stats[CategoryYearly])
	}
	if classification["year-a"] != CategoryYearly {
		t.Errorf("year-a = %s, want yearly", classification["year-a"])
	}
}

func TestClassifyEmpty(t *testing.T) {
	if got := ClassifyArchivesGFS(nil, 7, 4, 6, 2, time.Now()); len(got) != 0 {
		t.Errorf("classification of no archives = %v", got)
	}
}
