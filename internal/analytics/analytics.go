// Package analytics computes the dashboard and report aggregates from
// already-loaded collections. Every function is pure and takes "now" as a
// parameter so results are reproducible.
package analytics

import (
	"time"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/store"
)

// DefaultMonths is the trailing window used when a caller passes months <= 0.
const DefaultMonths = 6

const monthLabelLayout = "Jan 2006"

type StageBucket struct {
	Stage      domain.Stage `json:"stage"`
	Count      int          `json:"count"`
	TotalValue float64      `json:"totalValue"`
}

type MonthBucket struct {
	Label      string  `json:"label"`
	Year       int     `json:"year"`
	Month      int     `json:"month"`
	TotalValue float64 `json:"totalValue"`
	Count      int     `json:"count"`
}

type Conversion struct {
	From      domain.Stage `json:"from"`
	To        domain.Stage `json:"to"`
	FromCount int          `json:"fromCount"`
	ToCount   int          `json:"toCount"`
	Rate      float64      `json:"rate"`
}

type Summary struct {
	TotalDeals     int     `json:"totalDeals"`
	OpenDeals      int     `json:"openDeals"`
	PipelineValue  float64 `json:"pipelineValue"`
	WonDeals       int     `json:"wonDeals"`
	WonValue       float64 `json:"wonValue"`
	LostDeals      int     `json:"lostDeals"`
	WinRate        float64 `json:"winRate"`
	AverageWonDeal float64 `json:"averageWonDeal"`
}

// StageBreakdown counts deals per canonical stage in pipeline order. Unknown
// stages are grouped into a trailing Other bucket, present only when used.
func StageBreakdown(deals []store.Deal) []StageBucket {
	stages := domain.Stages()
	index := make(map[domain.Stage]int, len(stages))
	buckets := make([]StageBucket, 0, len(stages)+1)
	for i, stage := range stages {
		index[stage] = i
		buckets = append(buckets, StageBucket{Stage: stage})
	}
	other := StageBucket{Stage: domain.StageOther}

	for _, deal := range deals {
		bucket := deal.Stage.Bucket()
		if i, ok := index[bucket]; ok {
			buckets[i].Count++
			buckets[i].TotalValue += deal.Value.Float()
			continue
		}
		other.Count++
		other.TotalValue += deal.Value.Float()
	}
	if other.Count > 0 {
		buckets = append(buckets, other)
	}
	return buckets
}

// DealsByMonth buckets deals into the trailing calendar months ending with
// now's month, oldest first. A deal is dated by UpdatedDate, falling back to
// CreatedDate; deals with neither, or dated outside the window, are skipped.
func DealsByMonth(deals []store.Deal, now time.Time, months int) []MonthBucket {
	if months <= 0 {
		months = DefaultMonths
	}
	loc := now.Location()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -(months - 1), 0)

	buckets := make([]MonthBucket, months)
	type key struct {
		year  int
		month time.Month
	}
	index := make(map[key]int, months)
	for i := 0; i < months; i++ {
		start := first.AddDate(0, i, 0)
		buckets[i] = MonthBucket{Label: start.Format(monthLabelLayout), Year: start.Year(), Month: int(start.Month())}
		index[key{start.Year(), start.Month()}] = i
	}

	for _, deal := range deals {
		date, ok := dealDate(deal)
		if !ok {
			continue
		}
		date = date.In(loc)
		i, ok := index[key{date.Year(), date.Month()}]
		if !ok {
			continue
		}
		buckets[i].Count++
		buckets[i].TotalValue += deal.Value.Float()
	}
	return buckets
}

// RevenueByMonth is DealsByMonth restricted to closed-won deals.
func RevenueByMonth(deals []store.Deal, now time.Time, months int) []MonthBucket {
	return DealsByMonth(ClosedWon(deals), now, months)
}

// ClosedWon returns the deals whose stage normalizes to closed won.
func ClosedWon(deals []store.Deal) []store.Deal {
	won := make([]store.Deal, 0, len(deals))
	for _, deal := range deals {
		if domain.IsClosedWon(string(deal.Stage)) {
			won = append(won, deal)
		}
	}
	return won
}

// Funnel computes stage-to-stage conversion over an ordered stage list. The
// last stage converts into closed won. Rates are percentages in [0, 100]; a
// stage with no deals converts at 0.
func Funnel(deals []store.Deal, stages []domain.Stage) []Conversion {
	if len(stages) == 0 {
		stages = domain.OpenStages()
	}
	counts := make(map[domain.Stage]int)
	for _, deal := range deals {
		counts[deal.Stage.Bucket()]++
	}

	conversions := make([]Conversion, 0, len(stages))
	for i, stage := range stages {
		from := stage.Bucket()
		to := domain.StageClosedWon
		if i+1 < len(stages) {
			to = stages[i+1].Bucket()
		}
		c := Conversion{From: from, To: to, FromCount: counts[from], ToCount: counts[to]}
		c.Rate = rate(c.ToCount, c.FromCount)
		conversions = append(conversions, c)
	}
	return conversions
}

func rate(numerator, denominator int) float64 {
	if denominator <= 0 || numerator <= 0 {
		return 0
	}
	r := float64(numerator) / float64(denominator) * 100
	if r > 100 {
		return 100
	}
	return r
}

// Summarize reports pipeline totals. WinRate is won/(won+lost) as a percentage.
func Summarize(deals []store.Deal) Summary {
	var s Summary
	s.TotalDeals = len(deals)
	for _, deal := range deals {
		value := deal.Value.Float()
		switch {
		case domain.IsClosedWon(string(deal.Stage)):
			s.WonDeals++
			s.WonValue += value
		case domain.IsClosedLost(string(deal.Stage)):
			s.LostDeals++
		default:
			s.OpenDeals++
			s.PipelineValue += value
		}
	}
	s.WinRate = rate(s.WonDeals, s.WonDeals+s.LostDeals)
	if s.WonDeals > 0 {
		s.AverageWonDeal = s.WonValue / float64(s.WonDeals)
	}
	return s
}

// dealDate is updatedDate when one was supplied, else createdDate. A supplied
// but unparseable date excludes the deal rather than falling through.
func dealDate(deal store.Deal) (time.Time, bool) {
	date := deal.CreatedDate
	if deal.UpdatedDate.Present() {
		date = deal.UpdatedDate
	}
	if date.Invalid || date.IsZero() {
		return time.Time{}, false
	}
	return date.Time, true
}
