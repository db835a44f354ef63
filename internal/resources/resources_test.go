package resources

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/topografia/internal/apiclient"
	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/querykeys"
)

func newTestService(t *testing.T, h http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(apiclient.New(srv.URL), cache.New(cache.Options{}))
}

func TestProjects_ListCoercesNonArray(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object", `{"detail":"sin proyectos"}`},
		{"null", `null`},
		{"empty", ``},
		{"scalar", `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			got, err := svc.Projects.List(context.Background(), nil)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("List = %#v, want empty non-nil slice", got)
			}
		})
	}
}

func TestProjects_ListIsCachedUntilCreate(t *testing.T) {
	var lists atomic.Int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			lists.Add(1)
			w.Write([]byte(`[{"id":1,"nombre":"Tramo A","km_inicial":"0","km_final":1000}]`))
		case http.MethodPost:
			var in map[string]any
			json.NewDecoder(r.Body).Decode(&in)
			if in["intervalo"] != float64(models.DefaultInterval) {
				t.Errorf("intervalo = %v, want default", in["intervalo"])
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":2,"nombre":"Tramo B"}`))
		}
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.Projects.List(ctx, nil)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 || got[0].KmStart.Float64 != 0 || !got[0].KmStart.Valid {
			t.Fatalf("List = %+v", got)
		}
	}
	if n := lists.Load(); n != 1 {
		t.Fatalf("list requests = %d, want 1", n)
	}

	created, err := svc.Projects.Create(ctx, models.ProjectInput{Name: "Tramo B", KmStart: 0, KmEnd: 500})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v, ok := svc.Cache().Get(querykeys.Projects.Detail(created.ID)); !ok || v.(models.Project).Name != "Tramo B" {
		t.Errorf("detail cache = %v, %v", v, ok)
	}

	if _, err := svc.Projects.List(ctx, nil); err != nil {
		t.Fatalf("List: %v", err)
	}
	if n := lists.Load(); n != 2 {
		t.Errorf("list requests after create = %d, want 2", n)
	}
}

func TestProjects_UpdateRollsBackOnFailure(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":7,"nombre":"Original","tolerancia_sct":0.005}`))
		case http.MethodPatch:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"detail":"km_final debe ser mayor que km_inicial"}`))
		}
	}))
	ctx := context.Background()

	before, err := svc.Projects.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	name := "Cambiado"
	_, err = svc.Projects.Update(ctx, 7, models.ProjectPatch{Name: &name})
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || !apiErr.IsValidationError() {
		t.Fatalf("Update error = %v, want validation error", err)
	}
	if apiErr.Message != "km_final debe ser mayor que km_inicial" {
		t.Errorf("Message = %q", apiErr.Message)
	}

	v, ok := svc.Cache().Get(querykeys.Projects.Detail(7))
	if !ok {
		t.Fatal("detail removed from cache")
	}
	if got := v.(models.Project); got.Name != before.Name {
		t.Errorf("cached name = %q, want %q", got.Name, before.Name)
	}

	res := svc.Projects.UpdateResult(ctx, 7, models.ProjectPatch{Name: &name})
	if res.Success || res.Error != "km_final debe ser mayor que km_inicial" {
		t.Errorf("UpdateResult = %+v", res)
	}
}

func TestReadings_UpdateIsVisibleWhileInFlight(t *testing.T) {
	var (
		svc      *Service
		mu       sync.Mutex
		inFlight string
	)
	svc = newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":3,"medicion_id":9,"lectura_mira":1.25,"calidad":"BUENA"}`))
		case http.MethodPut:
			if v, ok := svc.Cache().Get(querykeys.Readings.Detail(3)); ok {
				mu.Lock()
				inFlight = v.(models.Reading).Quality
				mu.Unlock()
			}
			w.Write([]byte(`{"id":3,"medicion_id":9,"lectura_mira":1.25,"calidad":"EXCELENTE"}`))
		}
	}))
	ctx := context.Background()

	if _, err := svc.Readings.Get(ctx, 3); err != nil {
		t.Fatalf("Get: %v", err)
	}
	svc.Cache().Set(querykeys.Readings.ByMeasurement(9, nil), []models.Reading{})

	quality := "EXCELENTE"
	updated, err := svc.Readings.Update(ctx, 3, models.ReadingPatch{Quality: &quality})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Quality != "EXCELENTE" {
		t.Errorf("updated = %+v", updated)
	}
	mu.Lock()
	defer mu.Unlock()
	if inFlight != "EXCELENTE" {
		t.Errorf("cache during request = %q, want optimistic value", inFlight)
	}
	if !svc.Cache().IsStale(querykeys.Readings.ByMeasurement(9, nil), cache.Long) {
		t.Error("measurement reading list not invalidated")
	}
}

func TestReadings_UpdateFailureRestoresSnapshot(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":4,"medicion_id":9,"lectura_mira":2.5}`))
		case http.MethodPut:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	ctx := context.Background()

	before, err := svc.Readings.Get(ctx, 4)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rod := 9.99
	if _, err := svc.Readings.Update(ctx, 4, models.ReadingPatch{RodReading: &rod}); err == nil {
		t.Fatal("expected error")
	}
	v, _ := svc.Cache().Get(querykeys.Readings.Detail(4))
	if got := v.(models.Reading); got.RodReading != before.RodReading {
		t.Errorf("RodReading = %+v, want %+v", got.RodReading, before.RodReading)
	}
}

func TestReadings_DeleteDropsDetail(t *testing.T) {
	var deleted atomic.Bool
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":5,"medicion_id":9}`))
		case http.MethodDelete:
			deleted.Store(true)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	ctx := context.Background()

	if _, err := svc.Readings.Get(ctx, 5); err != nil {
		t.Fatalf("Get: %v", err)
	}
	svc.Cache().Set(querykeys.Readings.ByMeasurement(9, nil), []models.Reading{{ID: 5}})

	res := svc.Readings.DeleteResult(ctx, 5)
	if !res.Success || res.Data != 5 {
		t.Fatalf("DeleteResult = %+v", res)
	}
	if !deleted.Load() {
		t.Error("DELETE not sent")
	}
	if _, ok := svc.Cache().Get(querykeys.Readings.Detail(5)); ok {
		t.Error("detail still cached")
	}
	if !svc.Cache().IsStale(querykeys.Readings.ByMeasurement(9, nil), cache.Long) {
		t.Error("list not invalidated")
	}
}

func TestReadings_ExportAndImport(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lecturas/export/9":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["formato"] != "CSV" {
				t.Errorf("formato = %v", body["formato"])
			}
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("division,lectura\n-10,1.25\n"))
		case "/lecturas/import/9":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if got := r.FormValue("formato_dispositivo"); got != "leica" {
				t.Errorf("formato_dispositivo = %q", got)
			}
			if got := r.FormValue("opciones"); got != `{"sobrescribir":true}` {
				t.Errorf("opciones = %q", got)
			}
			f, hdr, err := r.FormFile("archivo")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			if hdr.Filename != "campo.gsi" || string(data) != "GSI" {
				t.Errorf("file = %s %q", hdr.Filename, data)
			}
			w.Write([]byte(`{"imported_count":12}`))
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	file, err := svc.Readings.Export(ctx, 9, "", nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if file.Filename != "lecturas_9.csv" || !strings.HasPrefix(string(file.Data), "division") {
		t.Errorf("Export = %s %q", file.Filename, file.Data)
	}

	sum, err := svc.Readings.Import(ctx, 9, "campo.gsi", []byte("GSI"), "leica", map[string]any{"sobrescribir": true})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if sum.ImportedCount != 12 {
		t.Errorf("ImportedCount = %d", sum.ImportedCount)
	}
}

func TestReadings_ByQualityUsesBackendLabel(t *testing.T) {
	var query string
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	if _, err := svc.Readings.ByQuality(context.Background(), 9, "excellent"); err != nil {
		t.Fatalf("ByQuality: %v", err)
	}
	if query != "calidad=EXCELENTE" {
		t.Errorf("query = %q", query)
	}
}

func TestChainages(t *testing.T) {
	tests := []struct {
		name                 string
		start, end, interval float64
		want                 []float64
	}{
		{"even", 0, 20, 5, []float64{0, 5, 10, 15, 20}},
		{"partial last step", 0, 12, 5, []float64{0, 5, 10}},
		{"fractional", 0, 0.3, 0.1, []float64{0, 0.1, 0.2, 0.3}},
		{"single", 100, 100, 5, []float64{100}},
		{"reversed", 20, 0, 5, nil},
		{"zero interval", 0, 20, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chainages(tt.start, tt.end, tt.interval)
			if len(got) != len(tt.want) {
				t.Fatalf("Chainages = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Chainages[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStations_Generate(t *testing.T) {
	var (
		mu      sync.Mutex
		created []float64
	)
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/proyectos/1/estaciones/":
			w.Write([]byte(`[{"id":1,"proyecto_id":1,"km":5},{"id":2,"proyecto_id":1,"km":"10.0004"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/estaciones/":
			var in models.StationInput
			json.NewDecoder(r.Body).Decode(&in)
			if in.Km == 15 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if in.BaseCL != models.DefaultBaseCL || in.RightSlope != models.DefaultRightSlope {
				t.Errorf("defaults not applied: %+v", in)
			}
			if in.Km == 0 {
				time.Sleep(30 * time.Millisecond)
			}
			mu.Lock()
			created = append(created, in.Km)
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"id": 100 + int(in.Km), "proyecto_id": 1, "km": in.Km})
		default:
			http.NotFound(w, r)
		}
	}))

	project := models.Project{
		ID:       1,
		KmStart:  models.NewNumber(0),
		KmEnd:    models.NewNumber(20),
		Interval: models.NewNumber(5),
	}
	report, err := svc.Stations.Generate(context.Background(), project, StationDefaults{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", report.Skipped)
	}
	if len(report.Created) != 2 {
		t.Errorf("Created = %d, want 2 (%v)", len(report.Created), created)
	}
	if len(report.Failed) != 1 || report.Failed[0].Km != 15 {
		t.Errorf("Failed = %+v", report.Failed)
	}
	var kms []float64
	for _, st := range report.Created {
		kms = append(kms, st.Km.Float64)
	}
	if len(kms) != 2 || kms[0] != 0 || kms[1] != 20 {
		t.Errorf("Created km order = %v, want [0 20]", kms)
	}
}

func TestStations_GenerateKeepsExplicitZero(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[]`))
		case http.MethodPost:
			var in map[string]any
			json.NewDecoder(r.Body).Decode(&in)
			mu.Lock()
			bodies = append(bodies, in)
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"id": 1, "proyecto_id": 2, "km": in["km"]})
		}
	}))

	project := models.Project{ID: 2, KmStart: models.NewNumber(0), KmEnd: models.NewNumber(0), Interval: models.NewNumber(5)}
	d := StationDefaults{RightSlope: models.NewNumber(0), BaseCL: models.NewNumber(0)}
	if _, err := svc.Stations.Generate(context.Background(), project, d); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("posted %d stations, want 1", len(bodies))
	}
	if bodies[0]["pendiente_derecha"] != float64(0) || bodies[0]["base_cl"] != float64(0) {
		t.Errorf("station = %v, want zero slope and base", bodies[0])
	}
}

func TestReadings_ListByMeasurementCoercesAndCaches(t *testing.T) {
	var gets atomic.Int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mediciones/9/lecturas/" {
			http.NotFound(w, r)
			return
		}
		gets.Add(1)
		if r.URL.Query().Get("calidad") == "BUENA" {
			w.Write([]byte(`[{"id":1,"medicion_id":9,"division_transversal":-3}]`))
			return
		}
		w.Write([]byte(`{"detail":"sin lecturas"}`))
	}))
	ctx := context.Background()

	got, err := svc.Readings.ListByMeasurement(ctx, 9, nil)
	if err != nil {
		t.Fatalf("ListByMeasurement: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListByMeasurement = %#v, want empty non-nil slice", got)
	}
	if _, ok := svc.Cache().Get(querykeys.Readings.ByMeasurement(9, nil)); !ok {
		t.Error("list not cached under measurement key")
	}

	filters := url.Values{"calidad": {"BUENA"}}
	for i := 0; i < 2; i++ {
		got, err = svc.Readings.ListByMeasurement(ctx, 9, filters)
		if err != nil || len(got) != 1 {
			t.Fatalf("filtered list = %+v, %v", got, err)
		}
	}
	if _, ok := svc.Cache().Get(querykeys.Readings.ByMeasurement(9, filters)); !ok {
		t.Error("filtered list not cached under measurement+filters key")
	}
	if n := gets.Load(); n != 2 {
		t.Errorf("GET requests = %d, want 2", n)
	}
}

func TestReadings_MutationsInvalidateMeasurement(t *testing.T) {
	var gets atomic.Int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/mediciones/9/lecturas/":
			gets.Add(1)
			w.Write([]byte(`[{"id":1,"medicion_id":9}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/lecturas/":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":42,"medicion_id":9,"division_transversal":1.5}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/lecturas/batch"):
			w.Write([]byte(`{"created_count":3}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/lecturas/calculate-elevations/9"):
			w.Write([]byte(`{"lecturas_actualizadas":3}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()
	list := func() {
		t.Helper()
		if _, err := svc.Readings.ListByMeasurement(ctx, 9, nil); err != nil {
			t.Fatalf("ListByMeasurement: %v", err)
		}
	}

	list()
	list()
	if n := gets.Load(); n != 1 {
		t.Fatalf("GET requests before create = %d, want 1", n)
	}

	created, err := svc.Readings.Create(ctx, models.ReadingInput{MeasurementID: 9, Division: 1.5, RodReading: 1.2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v, ok := svc.Cache().Get(querykeys.Readings.Detail(created.ID))
	if !ok || v.(models.Reading).ID != 42 {
		t.Errorf("detail cache = %v, %v; want reading 42", v, ok)
	}
	if !svc.Cache().IsStale(querykeys.Readings.ByMeasurement(9, nil), cache.Long) {
		t.Error("measurement list not invalidated by Create")
	}
	list()
	if n := gets.Load(); n != 2 {
		t.Errorf("GET requests after create = %d, want 2", n)
	}

	if _, err := svc.Readings.CreateBatch(ctx, 9, []models.ReadingInput{{Division: 0, RodReading: 1}}); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	list()
	if n := gets.Load(); n != 3 {
		t.Errorf("GET requests after batch = %d, want 3", n)
	}

	res, err := svc.Readings.CalculateElevations(ctx, 9, 1887.5, nil)
	if err != nil || res.Updated != 3 {
		t.Fatalf("CalculateElevations = %+v, %v", res, err)
	}
	list()
	if n := gets.Load(); n != 4 {
		t.Errorf("GET requests after recalculation = %d, want 4", n)
	}
}

func TestUsers_GetRejectsInvalidID(t *testing.T) {
	var hits atomic.Int32
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{}`))
	}))
	if _, err := svc.Users.Get(context.Background(), "not-a-uuid"); err == nil {
		t.Error("expected error for invalid id")
	}
	if hits.Load() != 0 {
		t.Error("request sent for invalid id")
	}

	id := "3f1b6c1e-8a4d-4c57-9f0e-2a7f5c9d1b22"
	if _, err := svc.Users.Get(context.Background(), id); err != nil {
		t.Errorf("Get(%s): %v", id, err)
	}
}

func TestUtilities_Health(t *testing.T) {
	svc := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"healthy","version":"2.1.0","uptime":12}`))
	}))
	h, err := svc.Utilities.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" || h.Version != "2.1.0" || !strings.Contains(string(h.Raw), "uptime") {
		t.Errorf("Health = %+v", h)
	}
}

func TestNewResult(t *testing.T) {
	ok := NewResult(3, nil)
	if !ok.Success || ok.Data != 3 || ok.Error != "" {
		t.Errorf("ok = %+v", ok)
	}
	failed := NewResult(0, &apiclient.Error{StatusCode: 404, Message: "El recurso solicitado no existe."})
	if failed.Success || failed.Error != "El recurso solicitado no existe." {
		t.Errorf("failed = %+v", failed)
	}
	plain := NewResult("", errors.New("boom"))
	if plain.Error != "boom" {
		t.Errorf("plain = %+v", plain)
	}
}
