package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultReportWindow is the compliance report lookback when no range is
// given.
const DefaultReportWindow = 30 * 24 * time.Hour

// highFailureRatio is the failed-entry share above which the trail as a
// whole is flagged.
const highFailureRatio = 0.10

// highActivityCount is the per-user action count above which a user is
// flagged.
const highActivityCount = 100

// Statistics summarizes a slice of entries.
type Statistics struct {
	Total        int            `json:"total"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	UniqueUsers  int            `json:"unique_users"`
	ByActionType map[string]int `json:"by_action_type"`
	ByEntityType map[string]int `json:"by_entity_type"`
	ByDay        map[string]int `json:"by_day"`
}

// Anomaly is one flagged irregularity in the trail.
type Anomaly struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	UserID   string `json:"user_id,omitempty"`
}

// Report is the compliance report payload.
type Report struct {
	PeriodStart  time.Time      `json:"period_start"`
	PeriodEnd    time.Time      `json:"period_end"`
	Summary      string         `json:"summary"`
	Statistics   Statistics     `json:"statistics"`
	ActionCounts map[string]int `json:"action_breakdown"`
	UserActivity map[string]int `json:"user_activity"`
	Anomalies    []Anomaly      `json:"anomalies"`
	TotalEntries int            `json:"total_entries"`
}

// ComputeStatistics tallies a slice of entries. Days are keyed YYYY-MM-DD.
func ComputeStatistics(entries []Entry) Statistics {
	stats := Statistics{
		ByActionType: make(map[string]int),
		ByEntityType: make(map[string]int),
		ByDay:        make(map[string]int),
	}
	users := make(map[string]struct{})
	for _, e := range entries {
		stats.Total++
		if e.Status == StatusFailed {
			stats.Failed++
		} else {
			stats.Successful++
		}
		users[e.UserID] = struct{}{}
		stats.ByActionType[e.ActionType]++
		stats.ByEntityType[e.EntityType]++
		stats.ByDay[e.Timestamp.Format("2006-01-02")]++
	}
	stats.UniqueUsers = len(users)
	return stats
}

// UserActivity counts actions per user.
func UserActivity(entries []Entry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		out[e.UserID]++
	}
	return out
}

// IdentifyAnomalies flags a trail-wide high failure rate and per-user high
// activity.
func IdentifyAnomalies(entries []Entry) []Anomaly {
	var anomalies []Anomaly

	if len(entries) > 0 {
		failed := 0
		for _, e := range entries {
			if e.Status == StatusFailed {
				failed++
			}
		}
		ratio := float64(failed) / float64(len(entries))
		if ratio > highFailureRatio {
			anomalies = append(anomalies, Anomaly{
				Type:     "high_failure_rate",
				Severity: "HIGH",
				Message:  fmt.Sprintf("%.1f%% of audited actions failed", ratio*100),
			})
		}
	}

	for user, count := range UserActivity(entries) {
		if count > highActivityCount {
			anomalies = append(anomalies, Anomaly{
				Type:     "high_activity",
				Severity: "MEDIUM",
				Message:  fmt.Sprintf("user performed %d actions in the reporting window", count),
				UserID:   user,
			})
		}
	}
	return anomalies
}

// ComplianceReport builds the report over a date range. Zero times default
// to the last 30 days.
func (s *Service) ComplianceReport(ctx context.Context, from, to time.Time) (*Report, error) {
	if to.IsZero() {
		to = s.clk.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-DefaultReportWindow)
	}

	entries, err := s.Trail(ctx, TrailFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	stats := ComputeStatistics(entries)
	return &Report{
		PeriodStart: from,
		PeriodEnd:   to,
		Summary: fmt.Sprintf("%d audited actions by %d users between %s and %s",
			stats.Total, stats.UniqueUsers, from.Format("2006-01-02"), to.Format("2006-01-02")),
		Statistics:   stats,
		ActionCounts: stats.ByActionType,
		UserActivity: UserActivity(entries),
		Anomalies:    IdentifyAnomalies(entries),
		TotalEntries: stats.Total,
	}, nil
}

// csvHeader is fixed; consumers parse it positionally.
const csvHeader = `ID,Timestamp,Action Type,Entity Type,Entity ID,User ID,Status,IP Address`

// Export serializes the full trail. "json" returns the entry array; "csv"
// returns a header row plus one quoted row per entry.
func (s *Service) Export(ctx context.Context, format string) ([]byte, error) {
	entries, err := s.Trail(ctx, TrailFilter{})
	if err != nil {
		return nil, err
	}

	switch format {
	case "json":
		return json.Marshal(entries)
	case "csv":
		var b strings.Builder
		b.WriteString(csvHeader)
		b.WriteByte('\n')
		for _, e := range entries {
			cells := []string{
				e.ID,
				e.Timestamp.Format(time.RFC3339),
				e.ActionType,
				e.EntityType,
				e.EntityID,
				e.UserID,
				string(e.Status),
				e.IPAddress,
			}
			for i, c := range cells {
				cells[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
			}
			b.WriteString(strings.Join(cells, ","))
			b.WriteByte('\n')
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
