package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Option("missingkey=error").ParseFS(templateFS, "templates/*.html"))

const (
	credentialsTemplate = "credentials.html"
	resetTemplate       = "reset.html"
)

type credentialsData struct {
	Name     string
	Email    string
	Password string
	LoginURL string
	Year     int
}

type resetData struct {
	Name     string
	ResetURL string
	ValidFor string
	Year     int
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
