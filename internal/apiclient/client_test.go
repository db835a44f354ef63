package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeSession struct {
	mu           sync.Mutex
	token        string
	refreshToken string
	refreshErr   error
	refreshes    int
	signOuts     int
}

func (f *fakeSession) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeSession) RefreshSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = f.refreshToken
	return f.refreshToken, nil
}

func (f *fakeSession) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.token = ""
	return nil
}

func TestClient_AttachesHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithSession(&fakeSession{token: "abc"}), WithDevHeaders(true))
	var out map[string]string
	if err := c.Get(context.Background(), "/health", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("out = %v", out)
	}
	if got.Get("Authorization") != "Bearer abc" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if got.Get("X-Request-Time") == "" {
		t.Error("missing X-Request-Time in dev mode")
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
}

func TestClient_NoSessionSendsNoAuthorization(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := New(srv.URL).Delete(context.Background(), "/proyectos/1", nil); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want none", auth)
	}
}

func TestClient_RefreshesOnceAndReplays(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"token expired"}`))
			return
		}
		w.Write([]byte(`{"id":1,"nombre":"Tramo"}`))
	}))
	defer srv.Close()

	sess := &fakeSession{token: "stale", refreshToken: "fresh"}
	c := New(srv.URL, WithSession(sess))

	var out struct{ ID int }
	if err := c.Post(context.Background(), "/proyectos/", map[string]string{"nombre": "Tramo"}, &out); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if out.ID != 1 {
		t.Errorf("ID = %d", out.ID)
	}
	if sess.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", sess.refreshes)
	}
	if len(seen) != 2 || seen[0] != "Bearer stale" || seen[1] != "Bearer fresh" {
		t.Errorf("requests = %v", seen)
	}
}

func TestClient_SecondUnauthorizedDoesNotRefreshAgain(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := &fakeSession{token: "stale", refreshToken: "also-rejected"}
	c := New(srv.URL, WithSession(sess))

	err := c.Get(context.Background(), "/usuarios/me", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 Error", err)
	}
	if sess.refreshes != 1 {
		t.Errorf("refreshes = %d, want exactly 1", sess.refreshes)
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2", calls)
	}
	if apiErr.Message != msgUnauthorized {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestClient_FailedRefreshSignsOut(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := &fakeSession{token: "stale", refreshErr: errors.New("refresh token revoked")}
	c := New(srv.URL, WithSession(sess))

	err := c.Get(context.Background(), "/proyectos/", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || !apiErr.IsAuthError() {
		t.Fatalf("err = %v, want auth error", err)
	}
	if sess.signOuts != 1 {
		t.Errorf("signOuts = %d, want 1", sess.signOuts)
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1 (no replay)", calls)
	}
}

func TestClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantMsg     string
		wantServer  string
	}{
		{"400 with detail", 400, "application/json", `{"detail":"km_final debe ser mayor"}`, "km_final debe ser mayor", "km_final debe ser mayor"},
		{"400 without detail", 400, "application/json", `{}`, msgBadRequest, ""},
		{"401", 401, "application/json", `{"detail":"expired"}`, msgUnauthorized, "expired"},
		{"403", 403, "application/json", `{"detail":"nope"}`, msgForbidden, "nope"},
		{"404", 404, "application/json", `{"detail":"Not Found"}`, msgNotFound, "Not Found"},
		{"422 list detail", 422, "application/json", `{"detail":[{"loc":["body","km"],"msg":"field required"},{"msg":"value is not a valid float"}]}`, "field required; value is not a valid float", "field required; value is not a valid float"},
		{"422 without detail", 422, "application/json", ``, msgValidation, ""},
		{"500", 500, "application/json", `{"detail":"db down"}`, msgInternal, "db down"},
		{"503 message field", 503, "application/json", `{"message":"mantenimiento"}`, "mantenimiento", "mantenimiento"},
		{"502 html", 502, "text/html", `<html><body><h1>502 Bad Gateway</h1></body></html>`, "502 Bad Gateway", "502 Bad Gateway"},
		{"418 empty", 418, "", ``, "Error del servidor (418). Por favor intenta más tarde.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(srv.URL).Get(context.Background(), "/x", nil)
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d", apiErr.StatusCode)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if apiErr.ServerMessage != tt.wantServer {
				t.Errorf("ServerMessage = %q, want %q", apiErr.ServerMessage, tt.wantServer)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(url).Get(context.Background(), "/health", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !apiErr.IsNetworkError() || apiErr.IsServerError() || apiErr.IsClientError() {
		t.Errorf("classification wrong: %+v", apiErr)
	}
	if apiErr.Message != msgNetwork {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestError_Classification(t *testing.T) {
	tests := []struct {
		status                                int
		server, client, auth, validation, net bool
	}{
		{0, false, false, false, false, true},
		{400, false, true, false, true, false},
		{401, false, true, true, false, false},
		{403, false, true, true, false, false},
		{422, false, true, false, true, false},
		{500, true, false, false, false, false},
	}
	for _, tt := range tests {
		e := &Error{StatusCode: tt.status}
		if e.IsServerError() != tt.server || e.IsClientError() != tt.client || e.IsAuthError() != tt.auth ||
			e.IsValidationError() != tt.validation || e.IsNetworkError() != tt.net {
			t.Errorf("status %d misclassified", tt.status)
		}
	}
}

func TestDecodeList(t *testing.T) {
	type item struct {
		ID int `json:"id"`
	}
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"array", `[{"id":1},{"id":2}]`, 2},
		{"null", `null`, 0},
		{"object", `{"detail":"x"}`, 0},
		{"scalar", `"hola"`, 0},
		{"empty body", ``, 0},
		{"invalid json", `[{`, 0},
		{"bad element skipped", `[{"id":1},{"id":"dos"},{"id":3}]`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeList[item]([]byte(tt.raw))
			if got == nil {
				t.Fatal("DecodeList returned nil, want empty slice")
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestGetList_NonArrayIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"sin estaciones"}`))
	}))
	defer srv.Close()

	got, err := GetList[map[string]any](context.Background(), New(srv.URL), "/proyectos/1/estaciones/")
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		f, hdr, err := r.FormFile("archivo")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		if hdr.Filename != "campo.csv" || r.FormValue("formato_dispositivo") != "CSV" {
			t.Errorf("filename = %q, formato = %q", hdr.Filename, r.FormValue("formato_dispositivo"))
		}
		w.Write([]byte(`{"imported_count":12}`))
	}))
	defer srv.Close()

	var out struct {
		ImportedCount int `json:"imported_count"`
	}
	err := New(srv.URL).Upload(context.Background(), "/lecturas/import/4",
		map[string]string{"formato_dispositivo": "CSV"}, "archivo", "campo.csv", []byte("div,lectura\n0,1.25\n"), &out)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if out.ImportedCount != 12 {
		t.Errorf("ImportedCount = %d", out.ImportedCount)
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/proyectos/12", "/proyectos/{id}"},
		{"/proyectos/12/estaciones/", "/proyectos/{id}/estaciones/"},
		{"/lecturas/quality/4?calidad=BUENA", "/lecturas/quality/{id}"},
		{"/usuarios/3fa85f64-5717-4562-b3fc-2c963f66afa6", "/usuarios/{id}"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := endpointLabel(tt.in); got != tt.want {
			t.Errorf("endpointLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
