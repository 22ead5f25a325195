package borg

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Archive is one entry from borg list.
type Archive struct {
	Name string
	Time time.Time
}

// RetentionCategory classifies an archive under the GFS retention scheme.
type RetentionCategory string

const (
	CategoryDaily   RetentionCategory = "daily"
	CategoryWeekly  RetentionCategory = "weekly"
	CategoryMonthly RetentionCategory = "monthly"
	CategoryYearly  RetentionCategory = "yearly"
	CategoryDelete  RetentionCategory = "delete"
)

// borg list --json timestamps carry no zone and are local time.
const borgTimeLayout = "2006-01-02T15:04:05.000000"

func parseArchiveList(data []byte) ([]Archive, error) {
	var payload struct {
		Archives []struct {
			Name string `json:"name"`
			Time string `json:"time"`
		} `json:"archives"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("cannot parse borg list output: %w", err)
	}

	archives := make([]Archive, 0, len(payload.Archives))
	for _, entry := range payload.Archives {
		ts, err := time.ParseInLocation(borgTimeLayout, entry.Time, time.Local)
		if err != nil {
			return nil, fmt.Errorf("archive %s has unparseable time %q: %w", entry.Name, entry.Time, err)
		}
		archives = append(archives, Archive{Name: entry.Name, Time: ts})
	}
	return archives, nil
}

// ClassifyArchivesGFS assigns each archive a GFS retention category and
// mirrors what borg prune will keep: the newest KeepDaily archives stay as
// daily, then one per past ISO week, one per past month, one per past year.
// The current week, month and year are excluded from the weekly and coarser
// tiers because those periods are still accumulating archives. Everything
// unclassified is marked for deletion.
func ClassifyArchivesGFS(archives []Archive, keepDaily, keepWeekly, keepMonthly, keepYearly int, now time.Time) map[string]RetentionCategory {
	classification := make(map[string]RetentionCategory, len(archives))
	if len(archives) == 0 {
		return classification
	}

	sorted := make([]Archive, len(archives))
	copy(sorted, archives)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.After(sorted[j].Time)
	})

	currentISOYear, currentWeek := now.ISOWeek()
	currentYear := now.Year()
	currentMonth := int(now.Month())

	dailyCutIndex := len(sorted)
	if keepDaily > 0 {
		for i, a := range sorted {
			if i >= keepDaily {
				dailyCutIndex = i
				break
			}
			classification[a.Name] = CategoryDaily
		}
	} else {
		dailyCutIndex = 0
	}

	if keepWeekly > 0 {
		weeksSeen := make(map[string]bool)
		for i := dailyCutIndex; i < len(sorted); i++ {
			a := sorted[i]
			if classification[a.Name] != "" {
				continue
			}
			year, week := a.Time.ISOWeek()
			if year > currentISOYear || (year == currentISOYear && week >= currentWeek) {
				continue
			}
			weekKey := fmt.Sprintf("%d-W%02d", year, week)
			if !weeksSeen[weekKey] && len(weeksSeen) < keepWeekly {
				classification[a.Name] = CategoryWeekly
				weeksSeen[weekKey] = true
			}
		}
	}

	if keepMonthly > 0 {
		monthsSeen := make(map[string]bool)
		for i := dailyCutIndex; i < len(sorted); i++ {
			a := sorted[i]
			if classification[a.Name] != "" {
				continue
			}
			year := a.Time.Year()
			month := int(a.Time.Month())
			if year > currentYear || (year == currentYear && month >= currentMonth) {
				continue
			}
			monthKey := a.Time.Format("2006-01")
			if !monthsSeen[monthKey] && len(monthsSeen) < keepMonthly {
				classification[a.Name] = CategoryMonthly
				monthsSeen[monthKey] = true
			}
		}
	}

	if keepYearly > 0 {
		yearsSeen := make(map[string]bool)
		for i := dailyCutIndex; i < len(sorted); i++ {
			a := sorted[i]
			if classification[a.Name] != "" {
				continue
			}
			if a.Time.Year() >= currentYear {
				continue
			}
			yearKey := a.Time.Format("2006")
			if !yearsSeen[yearKey] && len(yearsSeen) < keepYearly {
				classification[a.Name] = CategoryYearly
				yearsSeen[yearKey] = true
			}
		}
	}

	for _, a := range sorted {
		if classification[a.Name] == "" {
			classification[a.Name] = CategoryDelete
		}
	}
	return classification
}

// RetentionStats counts archives per category.
func RetentionStats(classification map[string]RetentionCategory) map[RetentionCategory]int {
	stats := make(map[RetentionCategory]int)
	for _, cat := range classification {
		stats[cat]++
	}
	return stats
}
