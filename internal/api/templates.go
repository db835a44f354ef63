package api

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/lox/topografia/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"num": func(n models.Number) string {
			if !n.Valid {
				return "-"
			}
			return fmt.Sprintf("%.2f", n.Float64)
		},
		"date": func(t models.Timestamp) string {
			if d := t.Date(); d != "" {
				return d
			}
			return "-"
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
