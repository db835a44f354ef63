package models

import (
	"strings"
)

// Project defaults used when a form leaves a field blank.
const (
	DefaultInterval  = 5.0   // metres between stations
	DefaultThickness = 0.25  // concrete thickness in metres
	DefaultTolerance = 0.005 // SCT vertical tolerance in metres

	DefaultRightSlope = 0.02
	DefaultBaseCL     = 1886.140
)

var (
	DefaultLeftDivisions  = Divisions{-12.21, -10.7, -9, -6, -3, -1.3, 0}
	DefaultRightDivisions = Divisions{1.3, 3, 6, 9, 10.7, 12.21}
)

type Project struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"usuario_id,omitempty"`
	Name           string    `json:"nombre"`
	Section        string    `json:"tramo,omitempty"`
	Carriageway    string    `json:"cuerpo,omitempty"`
	KmStart        Number    `json:"km_inicial"`
	KmEnd          Number    `json:"km_final"`
	Interval       Number    `json:"intervalo"`
	Thickness      Number    `json:"espesor"`
	Tolerance      Number    `json:"tolerancia_sct"`
	LeftDivisions  Divisions `json:"divisiones_izquierdas,omitempty"`
	RightDivisions Divisions `json:"divisiones_derechas,omitempty"`
	TotalStations  Number    `json:"total_estaciones"`
	Length         Number    `json:"longitud_proyecto"`
	CreatedAt      Timestamp `json:"fecha_creacion"`
	UpdatedAt      Timestamp `json:"fecha_modificacion"`
	Status         string    `json:"estado,omitempty"`
}

// DivisionCount is the number of transverse divisions per cross-section.
// Falls back to the default layout when the project stores none.
func (p Project) DivisionCount() int {
	n := len(p.LeftDivisions) + len(p.RightDivisions)
	if n == 0 {
		return len(DefaultLeftDivisions) + len(DefaultRightDivisions)
	}
	return n
}

type Station struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"proyecto_id"`
	Km         Number    `json:"km"`
	RightSlope Number    `json:"pendiente_derecha"`
	BaseCL     Number    `json:"base_cl"`
	LeftSlope  Number    `json:"pendiente_izquierda"`
	CapturedAt Timestamp `json:"fecha_captura"`
	Notes      string    `json:"observaciones,omitempty"`
}

type Measurement struct {
	ID               int64     `json:"id"`
	ProjectID        int64     `json:"proyecto_id"`
	StationKm        Number    `json:"estacion_km"`
	BenchmarkHeight  Number    `json:"bn_altura"`
	BenchmarkReading Number    `json:"bn_lectura"`
	ApparatusHeight  Number    `json:"altura_aparato"`
	Date             Timestamp `json:"fecha_medicion"`
	Operator         string    `json:"operador,omitempty"`
	Weather          string    `json:"condiciones_clima,omitempty"`
	Notes            string    `json:"observaciones,omitempty"`
}

// InstrumentHeight is the height of instrument: the stored value when the
// backend computed one, otherwise benchmark elevation plus backsight.
func (m Measurement) InstrumentHeight() Number {
	if m.ApparatusHeight.Valid {
		return m.ApparatusHeight
	}
	if m.BenchmarkHeight.Valid && m.BenchmarkReading.Valid {
		return NewNumber(m.BenchmarkHeight.Float64 + m.BenchmarkReading.Float64)
	}
	return Number{}
}

type Reading struct {
	ID                int64     `json:"id"`
	MeasurementID     int64     `json:"medicion_id"`
	Division          Number    `json:"division_transversal"`
	RodReading        Number    `json:"lectura_mira"`
	RealElevation     Number    `json:"elv_base_real"`
	DesignElevation   Number    `json:"elv_base_proyecto"`
	ConcreteElevation Number    `json:"elv_concreto_proyecto"`
	ConcreteThickness Number    `json:"esp_concreto_proyecto"`
	Classification    string    `json:"clasificacion,omitempty"`
	VolumePerMetre    Number    `json:"volumen_por_metro"`
	WithinTolerance   *bool     `json:"cumple_tolerancia,omitempty"`
	Quality           string    `json:"calidad,omitempty"`
	CalculatedAt      Timestamp `json:"fecha_calculo"`
}

// Deviation returns real minus design elevation, if both are present.
func (r Reading) Deviation() (float64, bool) {
	if !r.RealElevation.Valid || !r.DesignElevation.Valid {
		return 0, false
	}
	return r.RealElevation.Float64 - r.DesignElevation.Float64, true
}

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	FullName     string         `json:"nombre_completo,omitempty"`
	Company      string         `json:"empresa,omitempty"`
	Organization string         `json:"organizacion,omitempty"`
	Role         string         `json:"rol,omitempty"`
	Active       *bool          `json:"activo,omitempty"`
	RegisteredAt Timestamp      `json:"fecha_registro"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Quality is the normalized quality label of a reading.
type Quality string

const (
	QualityExcellent    Quality = "EXCELLENT"
	QualityGood         Quality = "GOOD"
	QualityFair         Quality = "FAIR"
	QualityReview       Quality = "REVIEW"
	QualityUnclassified Quality = "UNCLASSIFIED"
)

// Qualities lists the known labels in display order.
var Qualities = []Quality{QualityExcellent, QualityGood, QualityFair, QualityReview}

// NormalizeQuality maps the Spanish and English labels the backend has
// used over time onto Quality. MALA is folded into REVIEW.
func NormalizeQuality(s string) (Quality, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXCELENTE", "EXCELLENT":
		return QualityExcellent, true
	case "BUENA", "BUENO", "GOOD":
		return QualityGood, true
	case "REGULAR", "FAIR":
		return QualityFair, true
	case "REVISAR", "REVIEW", "MALA", "MALO", "POOR":
		return QualityReview, true
	}
	return QualityUnclassified, false
}

// BackendQuality maps a Quality back to the label stored by the API.
func BackendQuality(q Quality) string {
	switch q {
	case QualityExcellent:
		return "EXCELENTE"
	case QualityGood:
		return "BUENA"
	case QualityFair:
		return "REGULAR"
	case QualityReview:
		return "REVISAR"
	}
	return ""
}

// Classification describes whether a point needs cut, fill, or is on grade.
type Classification string

const (
	ClassCut   Classification = "CUT"
	ClassFill  Classification = "FILL"
	ClassMeets Classification = "MEETS"
)

func NormalizeClassification(s string) (Classification, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CORTE", "CUT":
		return ClassCut, true
	case "TERRAPLEN", "TERRAPLÉN", "FILL":
		return ClassFill, true
	case "CUMPLE", "MEETS", "OK":
		return ClassMeets, true
	}
	return "", false
}
