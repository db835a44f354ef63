// Package validate checks survey inputs before they are sent to the API.
// Each check returns flags rather than failing on the first problem, so a
// form can show every issue at once.
package validate

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lox/topografia/internal/models"
)

const (
	FlagNameMissing          = "name_missing"
	FlagNameTooShort         = "name_too_short"
	FlagNameTooLong          = "name_too_long"
	FlagKmOutOfRange         = "km_out_of_range"
	FlagKmOrder              = "km_final_not_after_start"
	FlagIntervalOutOfRange   = "interval_out_of_range"
	FlagThicknessOutOfRange  = "thickness_out_of_range"
	FlagToleranceOutOfRange  = "tolerance_out_of_range"
	FlagStatusInvalid        = "status_invalid"
	FlagStationOutsideRange  = "station_outside_project"
	FlagBenchmarkNotPositive = "benchmark_height_not_positive"
	FlagBenchmarkReading     = "benchmark_reading_out_of_range"
	FlagDateInvalid          = "date_invalid"
	FlagDateInFuture         = "date_in_future"
	FlagRodReadingRange      = "rod_reading_out_of_range"
	FlagDivisionOutOfRange   = "division_out_of_range"
	FlagQualityInvalid       = "quality_invalid"
	FlagDivisionsTooClose    = "divisions_too_close"
)

// Limits for field values.
const (
	KmMin        = 0
	KmMax        = 999999
	IntervalMin  = 1
	IntervalMax  = 100
	ThicknessMin = 0.1
	ThicknessMax = 1.0
	ToleranceMin = 0.001
	ToleranceMax = 0.05
	RodMin       = 0
	RodMax       = 10
	DivisionMax  = 50

	minDivisionSpacing = 0.1
)

// Project statuses accepted by the API.
var ProjectStatuses = []string{"CONFIGURACION", "EN_PROGRESO", "COMPLETADO", "PAUSADO", "CANCELADO"}

var messages = map[string]string{
	FlagNameMissing:          "El nombre es requerido",
	FlagNameTooShort:         "El nombre debe tener al menos 3 caracteres",
	FlagNameTooLong:          "El nombre no puede exceder 100 caracteres",
	FlagKmOutOfRange:         "Los kilómetros deben estar entre 0 y 999999",
	FlagKmOrder:              "El kilómetro final debe ser mayor al inicial",
	FlagIntervalOutOfRange:   "El intervalo debe estar entre 1 y 100 m",
	FlagThicknessOutOfRange:  "El espesor debe estar entre 0.1 y 1 m",
	FlagToleranceOutOfRange:  "La tolerancia SCT debe estar entre 0.001 y 0.05 m",
	FlagStatusInvalid:        "Estado de proyecto no válido",
	FlagStationOutsideRange:  "La estación debe estar dentro del cadenamiento del proyecto",
	FlagBenchmarkNotPositive: "La altura del banco de nivel debe ser mayor a cero",
	FlagBenchmarkReading:     "La lectura del banco de nivel debe estar entre 0 y 10 m",
	FlagDateInvalid:          "Fecha de medición no válida",
	FlagDateInFuture:         "La fecha no puede ser futura",
	FlagRodReadingRange:      "La lectura de mira debe estar entre 0 y 10 m",
	FlagDivisionOutOfRange:   "Posición fuera de rango (-50 a 50 m)",
	FlagQualityInvalid:       "Calidad de lectura no válida",
	FlagDivisionsTooClose:    "Lecturas muy cercanas entre divisiones",
}

// Message returns the user-facing text for flag.
func Message(flag string) string {
	if m, ok := messages[flag]; ok {
		return m
	}
	return flag
}

// Err joins the messages of flags into one error, or nil when there are none.
func Err(flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	msgs := make([]string, len(flags))
	for i, f := range flags {
		msgs[i] = Message(f)
	}
	return errors.New(strings.Join(msgs, "; "))
}

// FlagsToJSON encodes flags for storage; no flags encode as "".
func FlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}

func outside(v, lo, hi float64) bool {
	return math.IsNaN(v) || v < lo || v > hi
}

func appendOnce(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func ValidateProject(in models.ProjectInput) []string {
	var flags []string

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		flags = append(flags, FlagNameMissing)
	case len([]rune(name)) < 3:
		flags = append(flags, FlagNameTooShort)
	case len([]rune(in.Name)) > 100:
		flags = append(flags, FlagNameTooLong)
	}

	if outside(in.KmStart, KmMin, KmMax) || outside(in.KmEnd, KmMin, KmMax) {
		flags = append(flags, FlagKmOutOfRange)
	}
	if in.KmEnd <= in.KmStart {
		flags = append(flags, FlagKmOrder)
	}

	if outside(in.Interval, IntervalMin, IntervalMax) {
		flags = append(flags, FlagIntervalOutOfRange)
	}
	if outside(in.Thickness, ThicknessMin, ThicknessMax) {
		flags = append(flags, FlagThicknessOutOfRange)
	}
	if outside(in.Tolerance, ToleranceMin, ToleranceMax) {
		flags = append(flags, FlagToleranceOutOfRange)
	}

	flags = append(flags, ValidateDivisions(append(append([]float64{}, in.LeftDivisions...), in.RightDivisions...))...)
	return flags
}

// ValidateStatus checks a project status label.
func ValidateStatus(status string) []string {
	for _, s := range ProjectStatuses {
		if s == status {
			return nil
		}
	}
	return []string{FlagStatusInvalid}
}

// ValidateStation checks a station against its project's chainage range.
func ValidateStation(in models.StationInput, project models.Project) []string {
	var flags []string
	if outside(in.Km, KmMin, KmMax) {
		flags = append(flags, FlagKmOutOfRange)
	}
	if project.KmStart.Valid && project.KmEnd.Valid {
		if in.Km < project.KmStart.Float64 || in.Km > project.KmEnd.Float64 {
			flags = append(flags, FlagStationOutsideRange)
		}
	}
	return flags
}

// ValidateMeasurement checks benchmark values and the measurement date.
// now bounds the date; dates after today are rejected.
func ValidateMeasurement(in models.MeasurementInput, now time.Time) []string {
	var flags []string
	if math.IsNaN(in.BenchmarkHeight) || in.BenchmarkHeight <= 0 {
		flags = append(flags, FlagBenchmarkNotPositive)
	}
	if outside(in.BenchmarkReading, RodMin, RodMax) {
		flags = append(flags, FlagBenchmarkReading)
	}
	if in.Date != "" {
		ts, err := models.ParseTimestamp(in.Date)
		switch {
		case err != nil:
			flags = append(flags, FlagDateInvalid)
		case ts.Date() > now.Format("2006-01-02"):
			flags = append(flags, FlagDateInFuture)
		}
	}
	return flags
}

func ValidateReading(in models.ReadingInput) []string {
	var flags []string
	if outside(in.RodReading, RodMin, RodMax) {
		flags = append(flags, FlagRodReadingRange)
	}
	if outside(in.Division, -DivisionMax, DivisionMax) {
		flags = append(flags, FlagDivisionOutOfRange)
	}
	if in.Quality != "" {
		if _, ok := models.NormalizeQuality(in.Quality); !ok {
			flags = append(flags, FlagQualityInvalid)
		}
	}
	return flags
}

// ValidateDivisions checks transverse offsets: each within range and no
// two closer than 10 cm.
func ValidateDivisions(divisions []float64) []string {
	var flags []string
	sorted := append([]float64(nil), divisions...)
	sort.Float64s(sorted)
	for i, d := range sorted {
		if outside(d, -DivisionMax, DivisionMax) {
			flags = appendOnce(flags, FlagDivisionOutOfRange)
		}
		if i > 0 && math.Abs(d-sorted[i-1]) < minDivisionSpacing {
			flags = appendOnce(flags, FlagDivisionsTooClose)
		}
	}
	return flags
}

// ValidateBatch checks every reading of one measurement, including the
// spacing between their divisions. Flags are reported once each.
func ValidateBatch(in []models.ReadingInput) []string {
	var flags []string
	divisions := make([]float64, len(in))
	for i, r := range in {
		for _, f := range ValidateReading(r) {
			flags = appendOnce(flags, f)
		}
		divisions[i] = r.Division
	}
	for _, f := range ValidateDivisions(divisions) {
		flags = appendOnce(flags, f)
	}
	return flags
}
