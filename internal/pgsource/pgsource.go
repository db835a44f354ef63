// Package pgsource reads survey data straight from the backend's Postgres
// database for offline analysis.
package pgsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lox/topografia/internal/models"
)

// ErrNotFound is returned when a project id has no row.
var ErrNotFound = errors.New("pgsource: project not found")

// Source implements analysis.Loader over a pgx pool.
type Source struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Source, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Printf("pgsource: connected")
	return &Source{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Source) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const projectSQL = `
    SELECT id, COALESCE(usuario_id::text, ''), nombre, COALESCE(tramo, ''), COALESCE(cuerpo, ''),
           km_inicial, km_final, intervalo, espesor, tolerancia_sct,
           divisiones_izquierdas::text, divisiones_derechas::text,
           fecha_creacion, COALESCE(estado, '')
    FROM proyectos
    WHERE id = $1
`

func (s *Source) Project(ctx context.Context, projectID int64) (models.Project, error) {
	var (
		p                             models.Project
		kmStart, kmEnd, interval      *float64
		thickness, tolerance          *float64
		leftDivisions, rightDivisions *string
		created                       *time.Time
	)
	err := s.pool.QueryRow(ctx, projectSQL, projectID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Section, &p.Carriageway,
		&kmStart, &kmEnd, &interval, &thickness, &tolerance,
		&leftDivisions, &rightDivisions,
		&created, &p.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("query project %d: %w", projectID, err)
	}
	p.KmStart = number(kmStart)
	p.KmEnd = number(kmEnd)
	p.Interval = number(interval)
	p.Thickness = number(thickness)
	p.Tolerance = number(tolerance)
	p.CreatedAt = timestamp(created)
	if p.LeftDivisions, err = divisions(leftDivisions); err != nil {
		return p, fmt.Errorf("project %d left divisions: %w", projectID, err)
	}
	if p.RightDivisions, err = divisions(rightDivisions); err != nil {
		return p, fmt.Errorf("project %d right divisions: %w", projectID, err)
	}
	return p, nil
}

const stationsSQL = `
    SELECT id, proyecto_id, km, pendiente_derecha, base_cl, pendiente_izquierda,
           fecha_captura, COALESCE(observaciones, '')
    FROM estaciones_teoricas
    WHERE proyecto_id = $1
    ORDER BY km
`

func (s *Source) Stations(ctx context.Context, projectID int64) ([]models.Station, error) {
	rows, err := s.pool.Query(ctx, stationsSQL, projectID)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	stations := make([]models.Station, 0)
	for rows.Next() {
		var (
			st                    models.Station
			km, right, base, left *float64
			captured              *time.Time
		)
		if err := rows.Scan(&st.ID, &st.ProjectID, &km, &right, &base, &left, &captured, &st.Notes); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		st.Km = number(km)
		st.RightSlope = number(right)
		st.BaseCL = number(base)
		st.LeftSlope = number(left)
		st.CapturedAt = timestamp(captured)
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

const measurementsSQL = `
    SELECT id, proyecto_id, estacion_km, bn_altura, bn_lectura, altura_aparato,
           fecha_medicion, COALESCE(operador, ''), COALESCE(condiciones_clima, ''), COALESCE(observaciones, '')
    FROM mediciones_estacion
    WHERE proyecto_id = $1
    ORDER BY estacion_km, fecha_medicion
`

func (s *Source) Measurements(ctx context.Context, projectID int64) ([]models.Measurement, error) {
	rows, err := s.pool.Query(ctx, measurementsSQL, projectID)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	measurements := make([]models.Measurement, 0)
	for rows.Next() {
		var (
			m                           models.Measurement
			km, bnHeight, bnReading, hi *float64
			measured                    *time.Time
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &km, &bnHeight, &bnReading, &hi,
			&measured, &m.Operator, &m.Weather, &m.Notes); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.StationKm = number(km)
		m.BenchmarkHeight = number(bnHeight)
		m.BenchmarkReading = number(bnReading)
		m.ApparatusHeight = number(hi)
		m.Date = timestamp(measured)
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

const readingsSQL = `
    SELECT id, medicion_id, division_transversal, lectura_mira, elv_base_real, elv_base_proyecto,
           elv_concreto_proyecto, esp_concreto_proyecto, COALESCE(clasificacion, ''),
           volumen_por_metro, cumple_tolerancia, COALESCE(calidad, ''), fecha_calculo
    FROM lecturas_divisiones
    WHERE medicion_id = ANY($1)
    ORDER BY medicion_id, division_transversal
`

// Readings loads the readings of the given measurements in one query.
func (s *Source) Readings(ctx context.Context, _ int64, measurements []models.Measurement) ([]models.Reading, error) {
	if len(measurements) == 0 {
		return []models.Reading{}, nil
	}
	ids := make([]int64, len(measurements))
	for i, m := range measurements {
		ids[i] = m.ID
	}

	rows, err := s.pool.Query(ctx, readingsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		var (
			r                             models.Reading
			division, rod, actual, design *float64
			concrete, thickness, volume   *float64
			calculated                    *time.Time
		)
		if err := rows.Scan(&r.ID, &r.MeasurementID, &division, &rod, &actual, &design,
			&concrete, &thickness, &r.Classification,
			&volume, &r.WithinTolerance, &r.Quality, &calculated); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Division = number(division)
		r.RodReading = number(rod)
		r.RealElevation = number(actual)
		r.DesignElevation = number(design)
		r.ConcreteElevation = number(concrete)
		r.ConcreteThickness = number(thickness)
		r.VolumePerMetre = number(volume)
		r.CalculatedAt = timestamp(calculated)
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Printf("pgsource: loaded %d readings for %d measurements", len(readings), len(ids))
	return readings, nil
}

func number(v *float64) models.Number {
	if v == nil {
		return models.Number{}
	}
	return models.NewNumber(*v)
}

func timestamp(t *time.Time) models.Timestamp {
	if t == nil {
		return models.Timestamp{}
	}
	return models.Timestamp{Time: *t, Valid: true}
}

// divisions decodes a stored division list. Columns hold a JSON array, a
// JSON string wrapping one, or a Postgres array literal.
func divisions(raw *string) (models.Divisions, error) {
	if raw == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		s = "[" + s[1:len(s)-1] + "]"
	}
	var d models.Divisions
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return d, nil
}
