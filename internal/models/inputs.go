package models

// ProjectInput is the payload for creating a project.
type ProjectInput struct {
	Name           string    `json:"nombre"`
	Section        string    `json:"tramo,omitempty"`
	Carriageway    string    `json:"cuerpo,omitempty"`
	KmStart        float64   `json:"km_inicial"`
	KmEnd          float64   `json:"km_final"`
	Interval       float64   `json:"intervalo"`
	Thickness      float64   `json:"espesor"`
	Tolerance      float64   `json:"tolerancia_sct"`
	LeftDivisions  Divisions `json:"divisiones_izquierdas,omitempty"`
	RightDivisions Divisions `json:"divisiones_derechas,omitempty"`
}

// ApplyDefaults fills zero-valued optional fields with project defaults.
func (in *ProjectInput) ApplyDefaults() {
	if in.Interval == 0 {
		in.Interval = DefaultInterval
	}
	if in.Thickness == 0 {
		in.Thickness = DefaultThickness
	}
	if in.Tolerance == 0 {
		in.Tolerance = DefaultTolerance
	}
	if len(in.LeftDivisions) == 0 {
		in.LeftDivisions = append(Divisions(nil), DefaultLeftDivisions...)
	}
	if len(in.RightDivisions) == 0 {
		in.RightDivisions = append(Divisions(nil), DefaultRightDivisions...)
	}
}

// ProjectPatch is a partial update; nil fields are left unchanged.
type ProjectPatch struct {
	Name      *string  `json:"nombre,omitempty"`
	Section   *string  `json:"tramo,omitempty"`
	KmStart   *float64 `json:"km_inicial,omitempty"`
	KmEnd     *float64 `json:"km_final,omitempty"`
	Interval  *float64 `json:"intervalo,omitempty"`
	Thickness *float64 `json:"espesor,omitempty"`
	Tolerance *float64 `json:"tolerancia_sct,omitempty"`
	Status    *string  `json:"estado,omitempty"`
}

// Apply returns p with the patch merged in.
func (pp ProjectPatch) Apply(p Project) Project {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Section != nil {
		p.Section = *pp.Section
	}
	setNumber(&p.KmStart, pp.KmStart)
	setNumber(&p.KmEnd, pp.KmEnd)
	setNumber(&p.Interval, pp.Interval)
	setNumber(&p.Thickness, pp.Thickness)
	setNumber(&p.Tolerance, pp.Tolerance)
	if pp.Status != nil {
		p.Status = *pp.Status
	}
	return p
}

type StationInput struct {
	ProjectID  int64    `json:"proyecto_id"`
	Km         float64  `json:"km"`
	RightSlope float64  `json:"pendiente_derecha"`
	BaseCL     float64  `json:"base_cl"`
	LeftSlope  *float64 `json:"pendiente_izquierda,omitempty"`
	Notes      string   `json:"observaciones,omitempty"`
}

type StationPatch struct {
	Km         *float64 `json:"km,omitempty"`
	RightSlope *float64 `json:"pendiente_derecha,omitempty"`
	BaseCL     *float64 `json:"base_cl,omitempty"`
	LeftSlope  *float64 `json:"pendiente_izquierda,omitempty"`
	Notes      *string  `json:"observaciones,omitempty"`
}

func (sp StationPatch) Apply(s Station) Station {
	setNumber(&s.Km, sp.Km)
	setNumber(&s.RightSlope, sp.RightSlope)
	setNumber(&s.BaseCL, sp.BaseCL)
	setNumber(&s.LeftSlope, sp.LeftSlope)
	if sp.Notes != nil {
		s.Notes = *sp.Notes
	}
	return s
}

type MeasurementInput struct {
	ProjectID        int64    `json:"proyecto_id"`
	StationKm        float64  `json:"estacion_km"`
	BenchmarkHeight  float64  `json:"bn_altura"`
	BenchmarkReading float64  `json:"bn_lectura"`
	ApparatusHeight  *float64 `json:"altura_aparato,omitempty"`
	Date             string   `json:"fecha_medicion,omitempty"` // YYYY-MM-DD
	Operator         string   `json:"operador,omitempty"`
	Weather          string   `json:"condiciones_clima,omitempty"`
	Notes            string   `json:"observaciones,omitempty"`
}

type MeasurementPatch struct {
	BenchmarkHeight  *float64 `json:"bn_altura,omitempty"`
	BenchmarkReading *float64 `json:"bn_lectura,omitempty"`
	ApparatusHeight  *float64 `json:"altura_aparato,omitempty"`
	Operator         *string  `json:"operador,omitempty"`
	Weather          *string  `json:"condiciones_clima,omitempty"`
	Notes            *string  `json:"observaciones,omitempty"`
}

func (mp MeasurementPatch) Apply(m Measurement) Measurement {
	setNumber(&m.BenchmarkHeight, mp.BenchmarkHeight)
	setNumber(&m.BenchmarkReading, mp.BenchmarkReading)
	setNumber(&m.ApparatusHeight, mp.ApparatusHeight)
	if mp.Operator != nil {
		m.Operator = *mp.Operator
	}
	if mp.Weather != nil {
		m.Weather = *mp.Weather
	}
	if mp.Notes != nil {
		m.Notes = *mp.Notes
	}
	return m
}

type ReadingInput struct {
	MeasurementID int64    `json:"medicion_id"`
	Division      float64  `json:"division_transversal"`
	RodReading    float64  `json:"lectura_mira"`
	Quality       string   `json:"calidad,omitempty"`
	Design        *float64 `json:"elv_base_proyecto,omitempty"`
}

type ReadingPatch struct {
	RodReading      *float64 `json:"lectura_mira,omitempty"`
	RealElevation   *float64 `json:"elv_base_real,omitempty"`
	DesignElevation *float64 `json:"elv_base_proyecto,omitempty"`
	Quality         *string  `json:"calidad,omitempty"`
	Classification  *string  `json:"clasificacion,omitempty"`
}

func (rp ReadingPatch) Apply(r Reading) Reading {
	setNumber(&r.RodReading, rp.RodReading)
	setNumber(&r.RealElevation, rp.RealElevation)
	setNumber(&r.DesignElevation, rp.DesignElevation)
	if rp.Quality != nil {
		r.Quality = *rp.Quality
	}
	if rp.Classification != nil {
		r.Classification = *rp.Classification
	}
	return r
}

type UserInput struct {
	Email        string `json:"email"`
	FullName     string `json:"nombre_completo,omitempty"`
	Company      string `json:"empresa,omitempty"`
	Organization string `json:"organizacion,omitempty"`
}

type UserPatch struct {
	FullName     *string `json:"nombre_completo,omitempty"`
	Company      *string `json:"empresa,omitempty"`
	Organization *string `json:"organizacion,omitempty"`
	Active       *bool   `json:"activo,omitempty"`
}

func (up UserPatch) Apply(u User) User {
	if up.FullName != nil {
		u.FullName = *up.FullName
	}
	if up.Company != nil {
		u.Company = *up.Company
	}
	if up.Organization != nil {
		u.Organization = *up.Organization
	}
	if up.Active != nil {
		v := *up.Active
		u.Active = &v
	}
	return u
}

func setNumber(dst *Number, v *float64) {
	if v != nil {
		*dst = NewNumber(*v)
	}
}
