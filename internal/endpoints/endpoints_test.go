package endpoints

import (
	"net/url"
	"testing"
)

func TestPaths(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Users(), "/usuarios/"},
		{Me(), "/usuarios/me"},
		{User("9b2c"), "/usuarios/9b2c"},
		{Projects(), "/proyectos/"},
		{Project(7), "/proyectos/7"},
		{ProjectsComplete(), "/proyectos/completo/"},
		{ProjectStations(7), "/proyectos/7/estaciones/"},
		{ProjectMeasurements(7), "/proyectos/7/mediciones/"},
		{ProjectDebug(7), "/proyectos/7/debug/"},
		{Stations(), "/estaciones/"},
		{Station(3), "/estaciones/3"},
		{Measurements(), "/mediciones/"},
		{Measurement(4), "/mediciones/4"},
		{MeasurementReadings(4), "/mediciones/4/lecturas/"},
		{Readings(), "/lecturas/"},
		{Reading(11), "/lecturas/11"},
		{ReadingsBatch(), "/lecturas/batch/"},
		{ReadingsValidate(4), "/lecturas/validate/4"},
		{ReadingsCalculateElevations(4), "/lecturas/calculate-elevations/4"},
		{ReadingsStats(4), "/lecturas/stats/4"},
		{ReadingsProfile(4), "/lecturas/profile/4"},
		{ReadingsByQuality(4, "BUENA"), "/lecturas/quality/4?calidad=BUENA"},
		{ReadingsImport(4), "/lecturas/import/4"},
		{ReadingsExport(4), "/lecturas/export/4"},
		{Health(), "/health"},
		{Info(), "/info"},
		{Status(), "/status"},
		{AuthTest(), "/auth/test"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestWithQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters url.Values
		want    string
	}{
		{"nil", nil, "/lecturas/"},
		{"all empty", url.Values{"calidad": {""}}, "/lecturas/"},
		{"sorted", url.Values{"medicion_id": {"4"}, "calidad": {"BUENA"}}, "/lecturas/?calidad=BUENA&medicion_id=4"},
		{"drops empty", url.Values{"medicion_id": {"4"}, "calidad": {""}}, "/lecturas/?medicion_id=4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadingsFiltered(tt.filters); got != tt.want {
				t.Errorf("ReadingsFiltered() = %q, want %q", got, tt.want)
			}
		})
	}
}
