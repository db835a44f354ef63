// Package analysis reduces a project's stations, measurements and readings
// to the figures shown on the analysis dashboard. Analyze is pure: the
// same input always gives the same Summary.
package analysis

import (
	"math"
	"sort"

	"github.com/lox/topografia/internal/models"
)

const (
	epsilon = 1e-9

	// criticalFactor marks a reading as critical when its deviation
	// exceeds this multiple of the tolerance.
	criticalFactor = 3.0

	// problemShare is the out-of-tolerance share above which a station is
	// reported as a problem.
	problemShare = 0.5

	// conformShare is the within-tolerance share a project needs for release.
	conformShare = 0.95

	// unitArea is the cross-section area assigned to each reading when
	// estimating volumes.
	unitArea = 1.0
)

// Release verdicts.
const (
	VerdictConform    = "CONFORME"
	VerdictNonConform = "NO CONFORME"
	VerdictNoData     = "SIN DATOS"
)

type Input struct {
	Project      models.Project
	Stations     []models.Station
	Measurements []models.Measurement
	Readings     []models.Reading
	CostPerM3    float64
}

type Elevation struct {
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Range            float64 `json:"range"`
	MeanAbsDeviation float64 `json:"mean_abs_deviation"`
	MeanDeviation    float64 `json:"mean_deviation"`
	SlopePercent     float64 `json:"slope_percent"`
}

type Volumes struct {
	Cut  float64 `json:"cut_m3"`
	Fill float64 `json:"fill_m3"`
	Net  float64 `json:"net_m3"`
	Cost float64 `json:"cost"`
}

type Summary struct {
	ProjectID          int64                  `json:"project_id"`
	ExpectedStations   int                    `json:"expected_stations"`
	MeasuredStations   int                    `json:"measured_stations"`
	Completion         float64                `json:"completion_percent"`
	TransverseCoverage float64                `json:"transverse_coverage_percent"`
	TotalReadings      int                    `json:"total_readings"`
	EvaluatedReadings  int                    `json:"evaluated_readings"`
	WorkingDays        int                    `json:"working_days"`
	SpanDays           int                    `json:"span_days"`
	FirstDate          string                 `json:"first_date,omitempty"`
	LastDate           string                 `json:"last_date,omitempty"`
	Elevation          Elevation              `json:"elevation"`
	WithinTolerance    float64                `json:"porcentaje_dentro_tolerancia_sct"`
	Tolerance          float64                `json:"tolerance"`
	Histogram          map[models.Quality]int `json:"histogram"`
	Critical           int                    `json:"critical"`
	ProblemStations    []float64              `json:"problem_stations"`
	Volumes            Volumes                `json:"volumes"`
	QualityScore       float64                `json:"quality_score"`
	Verdict            string                 `json:"verdict"`
}

// ExpectedStations is the number of stations between the project's start
// and end chainage at its interval, both ends included.
func ExpectedStations(p models.Project) int {
	interval := p.Interval.Or(0)
	if !p.KmStart.Valid || !p.KmEnd.Valid || interval <= 0 || p.KmEnd.Float64 < p.KmStart.Float64 {
		return 0
	}
	return int(math.Floor((p.KmEnd.Float64-p.KmStart.Float64)/interval+epsilon)) + 1
}

func percent(n, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return n / d * 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func kmKey(km float64) float64 {
	return math.Round(km*1000) / 1000
}

type stationTally struct {
	evaluated int
	outside   int
	elevSum   float64
	elevCount int
}

// Analyze computes the dashboard figures for one project.
func Analyze(in Input) Summary {
	p := in.Project
	tol := p.Tolerance.Or(models.DefaultTolerance)
	if tol <= 0 {
		tol = models.DefaultTolerance
	}
	interval := p.Interval.Or(models.DefaultInterval)

	s := Summary{
		ProjectID:       p.ID,
		Tolerance:       tol,
		TotalReadings:   len(in.Readings),
		Histogram:       make(map[models.Quality]int),
		ProblemStations: []float64{},
	}

	// Measurements: which stations were visited and on which days.
	stationOf := make(map[int64]float64, len(in.Measurements))
	measured := make(map[float64]bool)
	days := make(map[string]bool)
	for _, m := range in.Measurements {
		if m.StationKm.Valid {
			km := kmKey(m.StationKm.Float64)
			stationOf[m.ID] = km
			measured[km] = true
		}
		if d := m.Date.Date(); d != "" {
			days[d] = true
		}
	}
	s.MeasuredStations = len(measured)

	s.ExpectedStations = ExpectedStations(p)
	if s.ExpectedStations == 0 {
		s.ExpectedStations = len(in.Stations)
	}
	s.Completion = clamp(percent(float64(s.MeasuredStations), float64(s.ExpectedStations)), 0, 100)

	slots := len(in.Measurements) * p.DivisionCount()
	s.TransverseCoverage = clamp(percent(float64(len(in.Readings)), float64(slots)), 0, 100)

	s.WorkingDays = len(days)
	if len(days) > 0 {
		dates := make([]string, 0, len(days))
		for d := range days {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		s.FirstDate, s.LastDate = dates[0], dates[len(dates)-1]
		first, _ := models.ParseTimestamp(s.FirstDate)
		last, _ := models.ParseTimestamp(s.LastDate)
		s.SpanDays = int(last.Time.Sub(first.Time).Hours()/24) + 1
	}

	// Readings.
	var (
		within, counted   int
		absDevSum, devSum float64
		minElev, maxElev  = math.Inf(1), math.Inf(-1)
		tallies           = make(map[float64]*stationTally)
	)
	tallyFor := func(km float64) *stationTally {
		t, ok := tallies[km]
		if !ok {
			t = &stationTally{}
			tallies[km] = t
		}
		return t
	}

	for _, r := range in.Readings {
		q, _ := models.NormalizeQuality(r.Quality)
		s.Histogram[q]++

		km, hasStation := stationOf[r.MeasurementID]

		if r.RealElevation.Valid {
			e := r.RealElevation.Float64
			minElev = math.Min(minElev, e)
			maxElev = math.Max(maxElev, e)
			if hasStation {
				t := tallyFor(km)
				t.elevSum += e
				t.elevCount++
			}
		}

		dev, ok := r.Deviation()
		if !ok {
			continue
		}
		counted++
		absDev := math.Abs(dev)
		absDevSum += absDev
		devSum += dev

		inside := absDev <= tol+epsilon
		if inside {
			within++
		}
		if absDev > criticalFactor*tol+epsilon {
			s.Critical++
		}
		if hasStation {
			t := tallyFor(km)
			t.evaluated++
			if !inside {
				t.outside++
			}
		}

		volume := absDev * unitArea * interval
		if dev > 0 {
			s.Volumes.Cut += volume
		} else {
			s.Volumes.Fill += volume
		}
	}
	s.EvaluatedReadings = counted

	if !math.IsInf(minElev, 1) {
		s.Elevation.Min = minElev
		s.Elevation.Max = maxElev
		s.Elevation.Range = maxElev - minElev
	}
	if counted > 0 {
		s.Elevation.MeanAbsDeviation = absDevSum / float64(counted)
		s.Elevation.MeanDeviation = devSum / float64(counted)
	}
	s.Elevation.SlopePercent = slope(tallies)

	s.WithinTolerance = percent(float64(within), float64(counted))

	for km, t := range tallies {
		if t.evaluated > 0 && float64(t.outside)/float64(t.evaluated) > problemShare {
			s.ProblemStations = append(s.ProblemStations, km)
		}
	}
	sort.Float64s(s.ProblemStations)

	s.Volumes.Net = s.Volumes.Cut - s.Volumes.Fill
	s.Volumes.Cost = (s.Volumes.Cut + s.Volumes.Fill) * in.CostPerM3

	s.QualityScore = qualityScore(s.Histogram, len(in.Readings), s.WithinTolerance)

	switch {
	case counted == 0:
		s.Verdict = VerdictNoData
	case float64(within)/float64(counted) > conformShare:
		s.Verdict = VerdictConform
	default:
		s.Verdict = VerdictNonConform
	}
	return s
}

// slope is the longitudinal grade in percent between the first and last
// measured stations, from their mean real elevations.
func slope(tallies map[float64]*stationTally) float64 {
	var kms []float64
	for km, t := range tallies {
		if t.elevCount > 0 {
			kms = append(kms, km)
		}
	}
	if len(kms) < 2 {
		return 0
	}
	sort.Float64s(kms)
	first, last := kms[0], kms[len(kms)-1]
	dist := last - first
	if dist == 0 {
		return 0
	}
	mean := func(km float64) float64 {
		t := tallies[km]
		return t.elevSum / float64(t.elevCount)
	}
	return (mean(last) - mean(first)) / dist * 100
}

// qualityScore blends the quality histogram with the tolerance ratio:
// 0.4 excellent + 0.3 good + 0.2 fair + 0.3 within tolerance, each as a
// percentage, clamped to [0, 100].
func qualityScore(hist map[models.Quality]int, total int, withinPct float64) float64 {
	if total == 0 {
		return 0
	}
	pct := func(q models.Quality) float64 {
		return percent(float64(hist[q]), float64(total))
	}
	score := 0.4*pct(models.QualityExcellent) +
		0.3*pct(models.QualityGood) +
		0.2*pct(models.QualityFair) +
		0.3*withinPct
	return clamp(score, 0, 100)
}
