package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lox/topografia/internal/analysis"
	"github.com/lox/topografia/internal/api"
	"github.com/lox/topografia/internal/auth"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/pgsource"
	"github.com/lox/topografia/internal/publish"
	"github.com/lox/topografia/internal/report"
	"github.com/lox/topografia/internal/resources"
	"github.com/lox/topografia/internal/validate"
)

const narrativeCacheAge = 30 * 24 * time.Hour

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

func number(n models.Number) string {
	if !n.Valid {
		return "-"
	}
	return strconv.FormatFloat(n.Float64, 'f', -1, 64)
}

type LoginCmd struct {
	Email    string `arg:"" help:"Account email."`
	Password string `required:"" env:"TOPOGRAFIA_PASSWORD" help:"Account password."`
}

func (c *LoginCmd) Run(a *App) error {
	sess, err := a.auth.SignIn(a.ctx, c.Email, c.Password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sesión iniciada como %s\n", sess.User.Email)
	return nil
}

type SignupCmd struct {
	Email        string `arg:"" help:"Account email."`
	Password     string `required:"" env:"TOPOGRAFIA_PASSWORD" help:"Account password."`
	Name         string `required:"" help:"Full name."`
	Organization string `help:"Company or organization."`
}

func (c *SignupCmd) Run(a *App) error {
	if !auth.ValidEmail(c.Email) {
		return errors.New("correo electrónico inválido")
	}
	if check := auth.ValidatePassword(c.Password); !check.Valid {
		return errors.New(strings.Join(check.Issues, "; "))
	}
	sess, err := a.auth.SignUp(a.ctx, c.Email, c.Password, auth.Profile{Name: c.Name, Organization: c.Organization})
	if err != nil {
		return err
	}
	if sess == nil || sess.AccessToken == "" {
		fmt.Fprintln(a.out, "Cuenta creada. Revisa tu correo para confirmarla.")
		return nil
	}
	fmt.Fprintf(a.out, "Cuenta creada, sesión iniciada como %s\n", sess.User.Email)
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(a *App) error {
	if err := a.auth.SignOut(a.ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Sesión cerrada")
	return nil
}

type WhoamiCmd struct {
	Remote bool `help:"Fetch the profile from the survey API."`
}

func (c *WhoamiCmd) Run(a *App) error {
	if c.Remote {
		me, err := a.svc.Users.Me(a.ctx)
		if err != nil {
			return err
		}
		return a.printJSON(me)
	}
	u := a.auth.User()
	if u == nil {
		fmt.Fprintln(a.out, "No hay sesión activa")
		return nil
	}
	info := auth.FormatUserInfo(u)
	perms := auth.UserPermissions(u)
	w := a.table()
	fmt.Fprintf(w, "Email\t%s\n", info.Email)
	fmt.Fprintf(w, "Nombre\t%s\n", info.Name)
	fmt.Fprintf(w, "Rol\t%s\n", info.Role)
	fmt.Fprintf(w, "Último acceso\t%s\n", info.LastSignIn)
	fmt.Fprintf(w, "Administrador\t%t\n", perms.ManageUsers)
	return w.Flush()
}

type HealthCmd struct{}

func (c *HealthCmd) Run(a *App) error {
	h, err := a.svc.Utilities.Health(a.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %s", a.cfg.APIURL, h.Status)
	if h.Version != "" {
		fmt.Fprintf(a.out, " (versión %s)", h.Version)
	}
	fmt.Fprintln(a.out)
	return nil
}

type ProjectsCmd struct {
	List   ProjectsListCmd   `cmd:"" help:"List projects."`
	Show   ProjectsShowCmd   `cmd:"" help:"Show one project."`
	Create ProjectsCreateCmd `cmd:"" help:"Create a project."`
	Delete ProjectsDeleteCmd `cmd:"" help:"Delete a project."`
}

type ProjectsListCmd struct {
	Status string `help:"Only projects with this status."`
	JSON   bool   `help:"Print JSON."`
}

func (c *ProjectsListCmd) Run(a *App) error {
	var filters url.Values
	if c.Status != "" {
		if err := validate.Err(validate.ValidateStatus(c.Status)); err != nil {
			return err
		}
		filters = url.Values{"estado": {c.Status}}
	}
	projects, err := a.svc.Projects.List(a.ctx, filters)
	if err != nil {
		return err
	}
	if c.JSON {
		return a.printJSON(projects)
	}
	w := a.table()
	fmt.Fprintln(w, "ID\tNOMBRE\tTRAMO\tKM INICIAL\tKM FINAL\tESTADO")
	for _, p := range projects {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Section, number(p.KmStart), number(p.KmEnd), p.Status)
	}
	return w.Flush()
}

type ProjectsShowCmd struct {
	ID int64 `arg:"" help:"Project ID."`
}

func (c *ProjectsShowCmd) Run(a *App) error {
	p, err := a.svc.Projects.Get(a.ctx, c.ID)
	if err != nil {
		return err
	}
	return a.printJSON(p)
}

type ProjectsCreateCmd struct {
	Name        string    `required:"" help:"Project name."`
	Section     string    `help:"Road section (tramo)."`
	Carriageway string    `help:"Carriageway (cuerpo)."`
	KmStart     float64   `required:"" help:"Start chainage."`
	KmEnd       float64   `required:"" help:"End chainage."`
	Interval    float64   `help:"Metres between stations."`
	Thickness   float64   `help:"Concrete thickness in metres."`
	Tolerance   float64   `help:"SCT tolerance in metres."`
	Left        []float64 `help:"Left division offsets."`
	Right       []float64 `help:"Right division offsets."`
	Complete    bool      `help:"Let the server create the theoretical stations too."`
}

func (c *ProjectsCreateCmd) Run(a *App) error {
	in := models.ProjectInput{
		Name:           c.Name,
		Section:        c.Section,
		Carriageway:    c.Carriageway,
		KmStart:        c.KmStart,
		KmEnd:          c.KmEnd,
		Interval:       c.Interval,
		Thickness:      c.Thickness,
		Tolerance:      c.Tolerance,
		LeftDivisions:  c.Left,
		RightDivisions: c.Right,
	}
	in.ApplyDefaults()
	if err := validate.Err(validate.ValidateProject(in)); err != nil {
		return err
	}

	create := a.svc.Projects.CreateResult
	if c.Complete {
		create = a.svc.Projects.CreateCompleteResult
	}
	res := create(a.ctx, in)
	if !res.Success {
		return errors.New(res.Error)
	}
	fmt.Fprintf(a.out, "Proyecto %d creado: %s\n", res.Data.ID, res.Data.Name)
	return nil
}

type ProjectsDeleteCmd struct {
	ID  int64 `arg:"" help:"Project ID."`
	Yes bool  `help:"Confirm deletion."`
}

func (c *ProjectsDeleteCmd) Run(a *App) error {
	if !c.Yes {
		return fmt.Errorf("deleting project %d removes its stations and readings; pass --yes to confirm", c.ID)
	}
	res := a.svc.Projects.DeleteResult(a.ctx, c.ID)
	if !res.Success {
		return errors.New(res.Error)
	}
	fmt.Fprintf(a.out, "Proyecto %d eliminado\n", c.ID)
	return nil
}

type StationsCmd struct {
	List     StationsListCmd     `cmd:"" help:"List a project's stations."`
	Generate StationsGenerateCmd `cmd:"" help:"Create the missing stations of a project."`
}

type StationsListCmd struct {
	Project int64 `arg:"" help:"Project ID."`
}

func (c *StationsListCmd) Run(a *App) error {
	stations, err := a.svc.Stations.ListByProject(a.ctx, c.Project, nil)
	if err != nil {
		return err
	}
	w := a.table()
	fmt.Fprintln(w, "ID\tKM\tPENDIENTE DER\tBASE CL")
	for _, st := range stations {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.ID, number(st.Km), number(st.RightSlope), number(st.BaseCL))
	}
	return w.Flush()
}

type StationsGenerateCmd struct {
	Project    int64   `arg:"" help:"Project ID."`
	RightSlope float64 `help:"Right cross slope." default:"0.02"`
	LeftSlope  float64 `help:"Left cross slope. Omit to leave it unset."`
	BaseCL     float64 `name:"base-cl" help:"Centreline base elevation." default:"1886.140"`
}

func (c *StationsGenerateCmd) Run(a *App) error {
	p, err := a.svc.Projects.Get(a.ctx, c.Project)
	if err != nil {
		return err
	}
	d := resources.StationDefaults{
		RightSlope: models.NewNumber(c.RightSlope),
		BaseCL:     models.NewNumber(c.BaseCL),
	}
	if c.LeftSlope != 0 {
		d.LeftSlope = &c.LeftSlope
	}
	rep, err := a.svc.Stations.Generate(a.ctx, p, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d estaciones creadas, %d existentes\n", len(rep.Created), rep.Skipped)
	for _, f := range rep.Failed {
		fmt.Fprintf(a.out, "  km %.3f: %s\n", f.Km, resources.ErrorMessage(f.Err))
	}
	if len(rep.Failed) > 0 {
		return fmt.Errorf("%d estaciones fallaron", len(rep.Failed))
	}
	return nil
}

type ReadingsCmd struct {
	List   ReadingsListCmd   `cmd:"" help:"List a measurement's readings."`
	Export ReadingsExportCmd `cmd:"" help:"Export a measurement's readings to a file."`
}

type ReadingsListCmd struct {
	Measurement int64  `arg:"" help:"Measurement ID."`
	Quality     string `help:"Only readings of this quality (EXCELENTE, BUENA, REGULAR, REVISAR)."`
	JSON        bool   `help:"Print JSON."`
}

func (c *ReadingsListCmd) Run(a *App) error {
	var (
		readings []models.Reading
		err      error
	)
	if c.Quality != "" {
		readings, err = a.svc.Readings.ByQuality(a.ctx, c.Measurement, c.Quality)
	} else {
		readings, err = a.svc.Readings.ListByMeasurement(a.ctx, c.Measurement, nil)
	}
	if err != nil {
		return err
	}
	if c.JSON {
		return a.printJSON(readings)
	}
	w := a.table()
	fmt.Fprintln(w, "ID\tDIVISIÓN\tLECTURA\tELV REAL\tELV PROYECTO\tDESV\tCALIDAD")
	for _, r := range readings {
		dev := "-"
		if d, ok := r.Deviation(); ok {
			dev = strconv.FormatFloat(d, 'f', 4, 64)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, number(r.Division), number(r.RodReading),
			number(r.RealElevation), number(r.DesignElevation), dev, r.Quality)
	}
	return w.Flush()
}

type ReadingsExportCmd struct {
	Measurement int64  `arg:"" help:"Measurement ID."`
	Format      string `help:"Export format." enum:"CSV,XLSX,JSON" default:"CSV"`
	Dir         string `help:"Directory to write the file to." default:"." type:"path"`
	Publish     bool   `help:"Upload the export to the configured FTP drop."`
}

func (c *ReadingsExportCmd) Run(a *App) error {
	file, err := a.svc.Readings.Export(a.ctx, c.Measurement, c.Format, nil)
	if err != nil {
		return err
	}
	path := filepath.Join(c.Dir, file.Filename)
	if err := os.WriteFile(path, file.Data, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	id, created, err := a.store.StoreExport(c.Measurement, c.Format, file.Filename, file.Data)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(a.out, "Exportado %s (%d bytes, archivo #%d)\n", path, len(file.Data), id)
	} else {
		fmt.Fprintf(a.out, "Exportado %s (sin cambios desde el archivo #%d)\n", path, id)
	}

	if !c.Publish {
		return nil
	}
	if !a.cfg.FTPConfigured() {
		return errors.New("TOPOGRAFIA_FTP_ADDR not set")
	}
	p := publish.NewFTPPublisher(a.cfg.FTPAddr, a.cfg.FTPUser, a.cfg.FTPPassword, a.cfg.FTPDir)
	if err := publish.PublishExport(a.ctx, p, a.store, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Publicado en %s\n", a.cfg.FTPAddr)
	return nil
}

type AnalyzeCmd struct {
	Project   int64   `arg:"" help:"Project ID."`
	Source    string  `help:"Where to read survey data from." enum:"rest,postgres" default:"rest"`
	Cost      float64 `help:"Cost per cubic metre of cut or fill."`
	JSON      bool    `help:"Print the summary as JSON."`
	Scorecard string  `help:"Write a PNG scorecard to this path." type:"path"`
	Narrate   bool    `help:"Add an OpenAI-written narrative."`
}

func (a *App) loader(source string) (analysis.Loader, func(), error) {
	if source != "postgres" {
		return analysis.NewRESTLoader(a.svc), func() {}, nil
	}
	if a.cfg.DatabaseURL == "" {
		return nil, nil, errors.New("TOPOGRAFIA_DATABASE_URL not set")
	}
	src, err := pgsource.New(a.ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return src, src.Close, nil
}

func (a *App) narrator() (*report.Narrator, error) {
	dir := filepath.Join(filepath.Dir(a.cfg.DBPath), "narratives")
	return report.NewNarrator(a.cfg.OpenAIAPIKey, report.NewCache(dir, narrativeCacheAge))
}

func (c *AnalyzeCmd) Run(a *App) error {
	loader, closeLoader, err := a.loader(c.Source)
	if err != nil {
		return err
	}
	defer closeLoader()

	in, err := analysis.Load(a.ctx, loader, c.Source, c.Project)
	if err != nil {
		return err
	}
	in.CostPerM3 = c.Cost
	s := analysis.Analyze(in)

	if c.Scorecard != "" {
		data, err := report.Scorecard(s, in.Project)
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.Scorecard, data, 0644); err != nil {
			return fmt.Errorf("write scorecard: %w", err)
		}
	}

	var narrative string
	if c.Narrate {
		n, err := a.narrator()
		if err != nil {
			return err
		}
		if narrative, err = n.Narrate(a.ctx, in.Project, s); err != nil {
			return err
		}
	}

	if c.JSON {
		return a.printJSON(struct {
			analysis.Summary
			Narrative string `json:"narrative,omitempty"`
		}{s, narrative})
	}
	printSummary(a, in.Project, s)
	if narrative != "" {
		fmt.Fprintf(a.out, "\n%s\n", narrative)
	}
	return nil
}

func printSummary(a *App, p models.Project, s analysis.Summary) {
	w := a.table()
	fmt.Fprintf(w, "Proyecto\t%s (#%d)\n", p.Name, p.ID)
	fmt.Fprintf(w, "Avance\t%.1f%% (%d/%d estaciones)\n", s.Completion, s.MeasuredStations, s.ExpectedStations)
	fmt.Fprintf(w, "Cobertura transversal\t%.1f%%\n", s.TransverseCoverage)
	fmt.Fprintf(w, "Días de trabajo\t%d (%s a %s)\n", s.WorkingDays, s.FirstDate, s.LastDate)
	fmt.Fprintf(w, "Dentro de tolerancia SCT\t%.1f%% de %d lecturas (±%.3f m)\n", s.WithinTolerance, s.EvaluatedReadings, s.Tolerance)
	fmt.Fprintf(w, "Lecturas críticas\t%d\n", s.Critical)
	if len(s.ProblemStations) > 0 {
		fmt.Fprintf(w, "Estaciones problemáticas\t%v\n", s.ProblemStations)
	}
	fmt.Fprintf(w, "Elevación\t%.3f a %.3f m, pendiente %.2f%%\n", s.Elevation.Min, s.Elevation.Max, s.Elevation.SlopePercent)
	fmt.Fprintf(w, "Volúmenes\tcorte %.2f m³, relleno %.2f m³, costo %.2f\n", s.Volumes.Cut, s.Volumes.Fill, s.Volumes.Cost)
	fmt.Fprintf(w, "Puntuación de calidad\t%.1f\n", s.QualityScore)
	fmt.Fprintf(w, "Dictamen\t%s\n", s.Verdict)
	w.Flush()
}

type ServeCmd struct {
	Port   string  `help:"HTTP server port." default:"8080"`
	Source string  `help:"Where to read survey data from." enum:"rest,postgres" default:"rest"`
	Cost   float64 `help:"Cost per cubic metre of cut or fill."`
}

func (c *ServeCmd) Run(a *App) error {
	loader, closeLoader, err := a.loader(c.Source)
	if err != nil {
		return err
	}
	defer closeLoader()

	opts := api.Options{
		Port:      c.Port,
		Source:    c.Source,
		CostPerM3: c.Cost,
		Store:     a.store,
	}
	if n, err := a.narrator(); err != nil {
		fmt.Fprintf(os.Stderr, "Narratives disabled: %v\n", err)
	} else {
		opts.Narrator = n
	}

	server := api.NewServer(a.svc, loader, opts)
	fmt.Fprintf(a.out, "Serving dashboard on :%s\n", c.Port)
	return server.Run(a.ctx)
}
