package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	_ "modernc.org/sqlite"

	"github.com/lox/topografia/internal/apiclient"
	"github.com/lox/topografia/internal/auth"
	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/config"
	"github.com/lox/topografia/internal/resources"
	"github.com/lox/topografia/internal/store"
	"github.com/lox/topografia/internal/supabase"
)

type CLI struct {
	DB      string `help:"Path to SQLite database (defaults to TOPOGRAFIA_DB)."`
	Verbose bool   `short:"v" help:"Log requests and cache activity to stderr."`

	Login    LoginCmd    `cmd:"" help:"Sign in to the survey API."`
	Signup   SignupCmd   `cmd:"" help:"Create an account."`
	Logout   LogoutCmd   `cmd:"" help:"Sign out and forget the stored session."`
	Whoami   WhoamiCmd   `cmd:"" help:"Show the signed-in user."`
	Health   HealthCmd   `cmd:"" help:"Check the survey API."`
	Projects ProjectsCmd `cmd:"" help:"List, show, create and delete projects."`
	Stations StationsCmd `cmd:"" help:"Manage theoretical stations."`
	Readings ReadingsCmd `cmd:"" help:"List and export division readings."`
	Analyze  AnalyzeCmd  `cmd:"" help:"Analyze a project's survey quality."`
	Serve    ServeCmd    `cmd:"" help:"Run the local dashboard server."`
}

// App is the wiring shared by every command.
type App struct {
	ctx   context.Context
	cfg   config.Config
	store *store.Store
	auth  *auth.Provider
	svc   *resources.Service
	out   io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("topografia"),
		kong.Description("Client toolkit for the pavement survey API."),
		kong.UsageOnError(),
	)

	if !cli.Verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		kctx.Fatalf("config: %v", err)
	}
	if cli.DB != "" {
		cfg.DBPath = cli.DB
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, closeApp, err := newApp(ctx, cfg)
	if err != nil {
		kctx.Fatalf("%v", err)
	}
	defer closeApp()

	kctx.FatalIfErrorf(kctx.Run(app))
}

func newApp(ctx context.Context, cfg config.Config) (*App, func(), error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}

	backend := supabase.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, st)
	provider := auth.New(backend, auth.NewLoginAttempts(st), cfg)
	if cfg.AuthConfigured() {
		if err := provider.Start(ctx); err != nil {
			log.Printf("auth: %v", err)
		}
	}

	api := apiclient.New(cfg.APIURL,
		apiclient.WithSession(provider),
		apiclient.WithTimeout(cfg.APITimeout),
		apiclient.WithDevHeaders(cfg.DevMode),
	)
	svc := resources.New(api, cache.New(cache.Options{}))

	return &App{
		ctx:   ctx,
		cfg:   cfg,
		store: st,
		auth:  provider,
		svc:   svc,
		out:   os.Stdout,
	}, func() { db.Close() }, nil
}
