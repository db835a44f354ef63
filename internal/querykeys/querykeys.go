// Package querykeys names every cached query. Keys are hierarchical: a
// more specific key always starts with the segments of its parent, so
// invalidating a prefix reaches everything beneath it.
package querykeys

import (
	"net/url"
	"strconv"
	"strings"
)

// Key is an ordered list of segments.
type Key []string

// HasPrefix reports whether prefix matches the leading segments of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Root returns the entity segment, or "" for an empty key.
func (k Key) Root() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

func (k Key) String() string {
	return "[" + strings.Join(k, " ") + "]"
}

// ID returns a map-safe identity for the key.
func (k Key) ID() string {
	return strings.Join(k, "\x1f")
}

func (k Key) with(segments ...string) Key {
	out := make(Key, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}

// Filters encodes filter values as one canonical segment. Empty values
// are dropped and keys are sorted, so equal filters give equal keys.
func Filters(v url.Values) string {
	clean := url.Values{}
	for k, vs := range v {
		for _, s := range vs {
			if s != "" {
				clean.Add(k, s)
			}
		}
	}
	return clean.Encode()
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// entity holds the key shapes shared by every resource.
type entity struct {
	root string
}

func (e entity) All() Key { return Key{e.root} }
func (e entity) Lists() Key { return e.All().with("list") }
func (e entity) List(filters url.Values) Key { return e.Lists().with(Filters(filters)) }
func (e entity) Details() Key { return e.All().with("detail") }
func (e entity) Detail(id int64) Key { return e.Details().with(itoa(id)) }
func (e entity) DetailString(id string) Key { return e.Details().with(id) }

type users struct{ entity }

func (u users) Me() Key { return u.All().with("me") }

type projects struct{ entity }

func (p projects) Stations(id int64) Key { return p.Detail(id).with("estaciones") }
func (p projects) Measurements(id int64) Key { return p.Detail(id).with("mediciones") }

type stations struct{ entity }

// ForProject is the prefix of every station list scoped to a project.
func (s stations) ForProject(projectID int64) Key {
	return s.Lists().with("proyecto", itoa(projectID))
}

func (s stations) ByProject(projectID int64, filters url.Values) Key {
	return s.ForProject(projectID).with(Filters(filters))
}

type measurements struct{ entity }

func (m measurements) ByProject(projectID int64) Key {
	return m.Lists().with("proyecto", itoa(projectID))
}

func (m measurements) ByStation(km float64, projectID int64) Key {
	return m.Lists().with("estacion", strconv.FormatFloat(km, 'f', -1, 64), itoa(projectID))
}

func (m measurements) Readings(id int64) Key { return m.Detail(id).with("lecturas") }

type readings struct{ entity }

// ForMeasurement is the prefix of every reading list scoped to a measurement.
func (r readings) ForMeasurement(measurementID int64) Key {
	return r.Lists().with("medicion", itoa(measurementID))
}

func (r readings) ByMeasurement(measurementID int64, filters url.Values) Key {
	return r.ForMeasurement(measurementID).with(Filters(filters))
}

// WithFilters is the unscoped filtered list.
func (r readings) WithFilters(filters url.Values) Key {
	return r.Lists().with("filtros", Filters(filters))
}

func (r readings) Stats(measurementID int64) Key {
	return r.All().with("stats", itoa(measurementID))
}

func (r readings) Profile(measurementID int64) Key {
	return r.All().with("profile", itoa(measurementID))
}

func (r readings) ByQuality(measurementID int64, quality string) Key {
	return r.All().with("quality", itoa(measurementID), quality)
}

type utilities struct{ entity }

func (u utilities) Health() Key { return u.All().with("health") }
func (u utilities) Info() Key { return u.All().with("info") }
func (u utilities) Status() Key { return u.All().with("status") }

var (
	Users        = users{entity{"usuarios"}}
	Projects     = projects{entity{"proyectos"}}
	Stations     = stations{entity{"estaciones"}}
	Measurements = measurements{entity{"mediciones"}}
	Readings     = readings{entity{"lecturas"}}
	Utilities    = utilities{entity{"utilidades"}}
)

// Invalidator marks every cached query under a prefix as stale.
type Invalidator interface {
	Invalidate(prefix Key)
}

// InvalidateProject refreshes a project, its children, and project lists.
func InvalidateProject(c Invalidator, projectID int64) {
	c.Invalidate(Projects.Detail(projectID))
	c.Invalidate(Projects.Lists())
	c.Invalidate(Stations.ForProject(projectID))
	c.Invalidate(Measurements.ByProject(projectID))
}

// InvalidateMeasurement refreshes a measurement and its readings.
func InvalidateMeasurement(c Invalidator, measurementID int64) {
	c.Invalidate(Measurements.Detail(measurementID))
	c.Invalidate(Readings.ForMeasurement(measurementID))
	c.Invalidate(Readings.Stats(measurementID))
	c.Invalidate(Readings.Profile(measurementID))
}

// InvalidateLists refreshes every list query of every entity.
func InvalidateLists(c Invalidator) {
	for _, e := range []entity{Users.entity, Projects.entity, Stations.entity, Measurements.entity, Readings.entity} {
		c.Invalidate(e.Lists())
	}
}

// InvalidateAll refreshes everything.
func InvalidateAll(c Invalidator) {
	c.Invalidate(Key{})
}
