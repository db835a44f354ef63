package querykeys

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKey_HasPrefix(t *testing.T) {
	tests := []struct {
		name   string
		key    Key
		prefix Key
		want   bool
	}{
		{"self", Projects.Detail(3), Projects.Detail(3), true},
		{"root", Projects.Detail(3), Projects.All(), true},
		{"empty prefix", Projects.Detail(3), Key{}, true},
		{"sibling", Projects.Detail(3), Projects.Detail(4), false},
		{"longer prefix", Projects.All(), Projects.Detail(3), false},
		{"other root", Stations.Detail(3), Projects.All(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
				t.Errorf("%v.HasPrefix(%v) = %v, want %v", tt.key, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestHierarchy(t *testing.T) {
	filters := url.Values{"estado": {"ACTIVO"}}
	tests := []struct {
		name   string
		child  Key
		parent Key
	}{
		{"list under lists", Projects.List(filters), Projects.Lists()},
		{"lists under all", Projects.Lists(), Projects.All()},
		{"detail under details", Projects.Detail(1), Projects.Details()},
		{"project stations under detail", Projects.Stations(1), Projects.Detail(1)},
		{"project measurements under detail", Projects.Measurements(1), Projects.Detail(1)},
		{"stations by project under lists", Stations.ByProject(1, filters), Stations.ForProject(1)},
		{"measurements by project under lists", Measurements.ByProject(1), Measurements.Lists()},
		{"measurements by station under lists", Measurements.ByStation(1005.5, 1), Measurements.Lists()},
		{"measurement readings under detail", Measurements.Readings(9), Measurements.Detail(9)},
		{"readings by measurement", Readings.ByMeasurement(9, nil), Readings.ForMeasurement(9)},
		{"reading stats", Readings.Stats(9), Readings.All()},
		{"reading quality", Readings.ByQuality(9, "BUENA"), Readings.All()},
		{"me under users", Users.Me(), Users.All()},
		{"health under utilities", Utilities.Health(), Utilities.All()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.child.HasPrefix(tt.parent) {
				t.Errorf("%v is not under %v", tt.child, tt.parent)
			}
		})
	}
}

func TestFilters_Canonical(t *testing.T) {
	a := Readings.ByMeasurement(9, url.Values{"calidad": {"BUENA"}, "limit": {"50"}, "empty": {""}})
	b := Readings.ByMeasurement(9, url.Values{"limit": {"50"}, "calidad": {"BUENA"}})
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("equal filters produced different keys (-a +b):\n%s", diff)
	}
	if a.ID() == Readings.ByMeasurement(9, nil).ID() {
		t.Error("different filters produced the same key")
	}
}

func TestKey_NoAliasing(t *testing.T) {
	base := Projects.Detail(1)
	a := base.with("a")
	b := base.with("b")
	if a[len(a)-1] != "a" || b[len(b)-1] != "b" {
		t.Errorf("with() aliased backing arrays: %v %v", a, b)
	}
}

type recorder struct {
	prefixes []Key
}

func (r *recorder) Invalidate(prefix Key) {
	r.prefixes = append(r.prefixes, prefix)
}

func (r *recorder) covers(k Key) bool {
	for _, p := range r.prefixes {
		if k.HasPrefix(p) {
			return true
		}
	}
	return false
}

func TestInvalidateProject(t *testing.T) {
	r := &recorder{}
	InvalidateProject(r, 5)

	for _, k := range []Key{
		Projects.Detail(5),
		Projects.Stations(5),
		Projects.List(nil),
		Stations.ByProject(5, url.Values{"km": {"1000"}}),
		Measurements.ByProject(5),
	} {
		if !r.covers(k) {
			t.Errorf("InvalidateProject did not cover %v", k)
		}
	}
	if r.covers(Projects.Detail(6)) {
		t.Error("InvalidateProject covered another project")
	}
}

func TestInvalidateMeasurement(t *testing.T) {
	r := &recorder{}
	InvalidateMeasurement(r, 9)
	for _, k := range []Key{
		Measurements.Detail(9),
		Measurements.Readings(9),
		Readings.ByMeasurement(9, url.Values{"calidad": {"BUENA"}}),
		Readings.Stats(9),
		Readings.Profile(9),
	} {
		if !r.covers(k) {
			t.Errorf("InvalidateMeasurement did not cover %v", k)
		}
	}
	if r.covers(Readings.ByMeasurement(10, nil)) {
		t.Error("InvalidateMeasurement covered another measurement")
	}
}

func TestInvalidateListsAndAll(t *testing.T) {
	r := &recorder{}
	InvalidateLists(r)
	if !r.covers(Readings.ByMeasurement(1, nil)) || !r.covers(Projects.List(nil)) {
		t.Error("InvalidateLists missed a list")
	}
	if r.covers(Projects.Detail(1)) {
		t.Error("InvalidateLists covered a detail")
	}

	r = &recorder{}
	InvalidateAll(r)
	if !r.covers(Utilities.Health()) {
		t.Error("InvalidateAll missed a key")
	}
}
