// Package endpoints builds request paths for the survey REST API.
// Trailing slashes are significant: the backend redirects on mismatch,
// and redirects drop the Authorization header.
package endpoints

import (
	"net/url"
	"strconv"
)

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

// Users.

func Users() string { return "/usuarios/" }
func Me() string { return "/usuarios/me" }
func User(id string) string { return "/usuarios/" + url.PathEscape(id) }

// Projects.

func Projects() string { return "/proyectos/" }
func Project(projectID int64) string { return "/proyectos/" + id(projectID) }
func ProjectsComplete() string { return "/proyectos/completo/" }
func ProjectStations(projectID int64) string {
	return "/proyectos/" + id(projectID) + "/estaciones/"
}
func ProjectMeasurements(projectID int64) string {
	return "/proyectos/" + id(projectID) + "/mediciones/"
}
func ProjectDebug(projectID int64) string { return "/proyectos/" + id(projectID) + "/debug/" }

// Stations.

func Stations() string { return "/estaciones/" }
func Station(stationID int64) string { return "/estaciones/" + id(stationID) }

// Measurements.

func Measurements() string { return "/mediciones/" }
func Measurement(measurementID int64) string { return "/mediciones/" + id(measurementID) }
func MeasurementReadings(measurementID int64) string {
	return "/mediciones/" + id(measurementID) + "/lecturas/"
}

// Readings.

func Readings() string { return "/lecturas/" }
func Reading(readingID int64) string { return "/lecturas/" + id(readingID) }

// ReadingsFiltered returns the readings collection with a query string.
func ReadingsFiltered(filters url.Values) string { return WithQuery(Readings(), filters) }

func ReadingsBatch() string { return "/lecturas/batch/" }
func ReadingsValidate(measurementID int64) string {
	return "/lecturas/validate/" + id(measurementID)
}
func ReadingsCalculateElevations(measurementID int64) string {
	return "/lecturas/calculate-elevations/" + id(measurementID)
}
func ReadingsStats(measurementID int64) string { return "/lecturas/stats/" + id(measurementID) }
func ReadingsProfile(measurementID int64) string { return "/lecturas/profile/" + id(measurementID) }

// ReadingsByQuality filters a measurement's readings by quality label.
func ReadingsByQuality(measurementID int64, quality string) string {
	return WithQuery("/lecturas/quality/"+id(measurementID), url.Values{"calidad": {quality}})
}

func ReadingsImport(measurementID int64) string { return "/lecturas/import/" + id(measurementID) }
func ReadingsExport(measurementID int64) string { return "/lecturas/export/" + id(measurementID) }

// Utilities.

func Health() string { return "/health" }
func Info() string { return "/info" }
func Status() string { return "/status" }
func AuthTest() string { return "/auth/test" }

// WithQuery appends non-empty filter values to path. Keys are sorted by
// url.Values.Encode so identical filters always produce the same URL.
func WithQuery(path string, filters url.Values) string {
	clean := url.Values{}
	for k, vs := range filters {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	if len(clean) == 0 {
		return path
	}
	return path + "?" + clean.Encode()
}
