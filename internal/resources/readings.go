package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/endpoints"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/querykeys"
)

var (
	readingListOptions   = cache.FetchOptions{StaleTime: cache.Short, CacheTime: cache.Medium}
	readingDetailOptions = cache.FetchOptions{StaleTime: cache.Medium}
)

type Readings struct{ b base }

// BatchResult is the reply to a batch create.
type BatchResult struct {
	CreatedCount int `json:"created_count"`
}

// ValidationReport is the server's verdict on a measurement's readings.
type ValidationReport struct {
	Total    int             `json:"total_lecturas"`
	Valid    int             `json:"lecturas_validas"`
	Warnings json.RawMessage `json:"advertencias,omitempty"`
	Errors   json.RawMessage `json:"errores,omitempty"`
}

// ElevationResult is the reply to an elevation recalculation.
type ElevationResult struct {
	Updated int `json:"lecturas_actualizadas"`
}

// ImportSummary is the reply to a field-device import.
type ImportSummary struct {
	ImportedCount int `json:"imported_count"`
}

// ExportFile is an exported readings file.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (r *Readings) ListByMeasurement(ctx context.Context, measurementID int64, filters url.Values) ([]models.Reading, error) {
	return fetchList[models.Reading](ctx, r.b, querykeys.Readings.ByMeasurement(measurementID, filters), readingListOptions,
		endpoints.WithQuery(endpoints.MeasurementReadings(measurementID), filters))
}

func (r *Readings) List(ctx context.Context, filters url.Values) ([]models.Reading, error) {
	return fetchList[models.Reading](ctx, r.b, querykeys.Readings.WithFilters(filters), readingListOptions,
		endpoints.ReadingsFiltered(filters))
}

func (r *Readings) Get(ctx context.Context, id int64) (models.Reading, error) {
	return fetchOne[models.Reading](ctx, r.b, querykeys.Readings.Detail(id), readingDetailOptions, endpoints.Reading(id))
}

func (r *Readings) invalidateMeasurement(measurementID int64) {
	if measurementID == 0 {
		r.b.cache.Invalidate(querykeys.Readings.Lists())
		return
	}
	r.b.cache.Invalidate(querykeys.Readings.ForMeasurement(measurementID))
	r.b.cache.Invalidate(querykeys.Measurements.Readings(measurementID))
}

// Create stores one reading, refreshes its measurement's lists and primes
// the detail cache with the server's copy.
func (r *Readings) Create(ctx context.Context, in models.ReadingInput) (models.Reading, error) {
	var created models.Reading
	if err := r.b.api.Post(ctx, endpoints.Readings(), in, &created); err != nil {
		return created, logFailure("create reading", err)
	}
	measurementID := created.MeasurementID
	if measurementID == 0 {
		measurementID = in.MeasurementID
	}
	r.invalidateMeasurement(measurementID)
	if created.ID != 0 {
		r.b.cache.Set(querykeys.Readings.Detail(created.ID), created)
	}
	return created, nil
}

// CreateBatch stores many readings of one measurement in a single call.
func (r *Readings) CreateBatch(ctx context.Context, measurementID int64, readings []models.ReadingInput) (BatchResult, error) {
	body := struct {
		MeasurementID int64                 `json:"medicion_id"`
		Readings      []models.ReadingInput `json:"lecturas"`
	}{measurementID, readings}

	var out BatchResult
	if err := r.b.api.Post(ctx, endpoints.ReadingsBatch(), body, &out); err != nil {
		return out, logFailure(fmt.Sprintf("create readings batch for measurement %d", measurementID), err)
	}
	r.invalidateMeasurement(measurementID)
	log.Printf("resources: created %d readings for measurement %d", out.CreatedCount, measurementID)
	return out, nil
}

// Update replaces a reading. The cached detail changes immediately, is
// rolled back if the server refuses, and is refetched afterwards either way.
func (r *Readings) Update(ctx context.Context, id int64, patch models.ReadingPatch) (models.Reading, error) {
	key := querykeys.Readings.Detail(id)
	updated, err := optimisticUpdate(ctx, r.b, key, patch.Apply,
		func(ctx context.Context) (models.Reading, error) {
			var out models.Reading
			err := r.b.api.Put(ctx, endpoints.Reading(id), patch, &out)
			return out, err
		},
		func(updated models.Reading, ok bool) {
			r.b.cache.Invalidate(key)
			if ok {
				r.invalidateMeasurement(updated.MeasurementID)
			}
		})
	return updated, logFailure(fmt.Sprintf("update reading %d", id), err)
}

func (r *Readings) Delete(ctx context.Context, id int64) error {
	key := querykeys.Readings.Detail(id)
	var measurementID int64
	if v, ok := r.b.cache.Get(key); ok {
		if rd, ok := v.(models.Reading); ok {
			measurementID = rd.MeasurementID
		}
	}
	if err := r.b.api.Delete(ctx, endpoints.Reading(id), nil); err != nil {
		return logFailure(fmt.Sprintf("delete reading %d", id), err)
	}
	r.b.cache.Remove(key)
	r.invalidateMeasurement(measurementID)
	return nil
}

// Validate asks the server to check a measurement's readings against
// criteria (tolerances, quality thresholds).
func (r *Readings) Validate(ctx context.Context, measurementID int64, criteria map[string]any) (ValidationReport, error) {
	if criteria == nil {
		criteria = map[string]any{}
	}
	var out ValidationReport
	err := r.b.api.Post(ctx, endpoints.ReadingsValidate(measurementID), criteria, &out)
	return out, logFailure(fmt.Sprintf("validate readings of measurement %d", measurementID), err)
}

// CalculateElevations recomputes real elevations from the instrument height.
func (r *Readings) CalculateElevations(ctx context.Context, measurementID int64, instrumentHeight float64, settings map[string]any) (ElevationResult, error) {
	if settings == nil {
		settings = map[string]any{}
	}
	body := map[string]any{
		"elevacion_instrumento": instrumentHeight,
		"configuracion":         settings,
	}
	var out ElevationResult
	if err := r.b.api.Post(ctx, endpoints.ReadingsCalculateElevations(measurementID), body, &out); err != nil {
		return out, logFailure(fmt.Sprintf("calculate elevations of measurement %d", measurementID), err)
	}
	r.invalidateMeasurement(measurementID)
	return out, nil
}

func (r *Readings) Stats(ctx context.Context, measurementID int64) (json.RawMessage, error) {
	return fetchOne[json.RawMessage](ctx, r.b, querykeys.Readings.Stats(measurementID), readingDetailOptions,
		endpoints.ReadingsStats(measurementID))
}

func (r *Readings) Profile(ctx context.Context, measurementID int64) (json.RawMessage, error) {
	return fetchOne[json.RawMessage](ctx, r.b, querykeys.Readings.Profile(measurementID), readingDetailOptions,
		endpoints.ReadingsProfile(measurementID))
}

// ByQuality returns a measurement's readings with the given quality.
// English and Spanish labels are both accepted.
func (r *Readings) ByQuality(ctx context.Context, measurementID int64, quality string) ([]models.Reading, error) {
	label := quality
	if q, ok := models.NormalizeQuality(quality); ok {
		label = models.BackendQuality(q)
	}
	return fetchList[models.Reading](ctx, r.b, querykeys.Readings.ByQuality(measurementID, label), readingDetailOptions,
		endpoints.ReadingsByQuality(measurementID, label))
}

// Export downloads a measurement's readings in format (CSV, XLSX, ...).
func (r *Readings) Export(ctx context.Context, measurementID int64, format string, options map[string]any) (ExportFile, error) {
	if format == "" {
		format = "CSV"
	}
	if options == nil {
		options = map[string]any{}
	}
	body := map[string]any{"formato": format, "opciones": options}
	data, contentType, err := r.b.api.Raw(ctx, http.MethodPost, endpoints.ReadingsExport(measurementID), body)
	if err != nil {
		return ExportFile{}, logFailure(fmt.Sprintf("export readings of measurement %d", measurementID), err)
	}
	return ExportFile{
		Filename:    exportFilename(contentType, measurementID, format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func exportFilename(contentType string, measurementID int64, format string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/json" {
		return fmt.Sprintf("lecturas_%d.json", measurementID)
	}
	return fmt.Sprintf("lecturas_%d.%s", measurementID, strings.ToLower(format))
}

// Import uploads a field-device file into a measurement.
func (r *Readings) Import(ctx context.Context, measurementID int64, filename string, data []byte, deviceFormat string, options map[string]any) (ImportSummary, error) {
	if options == nil {
		options = map[string]any{}
	}
	opts, err := json.Marshal(options)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("encode import options: %w", err)
	}
	fields := map[string]string{
		"formato_dispositivo": deviceFormat,
		"opciones":            string(opts),
	}
	var out ImportSummary
	if err := r.b.api.Upload(ctx, endpoints.ReadingsImport(measurementID), fields, "archivo", filename, data, &out); err != nil {
		return out, logFailure(fmt.Sprintf("import readings into measurement %d", measurementID), err)
	}
	r.invalidateMeasurement(measurementID)
	log.Printf("resources: imported %d readings into measurement %d", out.ImportedCount, measurementID)
	return out, nil
}

func (r *Readings) CreateResult(ctx context.Context, in models.ReadingInput) Result[models.Reading] {
	return NewResult(r.Create(ctx, in))
}

func (r *Readings) CreateBatchResult(ctx context.Context, measurementID int64, readings []models.ReadingInput) Result[BatchResult] {
	return NewResult(r.CreateBatch(ctx, measurementID, readings))
}

func (r *Readings) UpdateResult(ctx context.Context, id int64, patch models.ReadingPatch) Result[models.Reading] {
	return NewResult(r.Update(ctx, id, patch))
}

func (r *Readings) DeleteResult(ctx context.Context, id int64) Result[int64] {
	return NewResult(id, r.Delete(ctx, id))
}

func (r *Readings) ImportResult(ctx context.Context, measurementID int64, filename string, data []byte, deviceFormat string, options map[string]any) Result[ImportSummary] {
	return NewResult(r.Import(ctx, measurementID, filename, data, deviceFormat, options))
}
