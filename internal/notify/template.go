package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultLanguage is used when a recipient has no template of their own.
const DefaultLanguage = "english"

const defaultSubject = `Important documents: {{.DocumentName}}`

const defaultBody = `Dear {{.RecipientName}},

You are receiving this message because {{.OwnerName}} set up an automatic release of important documents to you, and they have not checked in since {{.LastCheckIn}}.

Document: {{.DocumentName}}
Description: {{.Description}}
{{- if .DocumentURL }}
Link: {{.DocumentURL}}
{{- end }}

Release ID: {{.ReleaseID}}
Released at: {{.ReleasedAt}}
`

// TemplateData provides fields for rendering release messages.
type TemplateData struct {
	OwnerName     string
	RecipientName string
	DocumentName  string
	Description   string
	DocumentURL   string
	ReleaseID     string
	LastCheckIn   string
	ReleasedAt    string
}

type langTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders messages per recipient language, falling back to
// DefaultLanguage.
type Templates struct {
	byLang map[string]langTemplate
}

// NewTemplates parses the built-in English template plus optional overrides
// keyed by language. Each override is "subject\n---\nbody".
func NewTemplates(overrides map[string]string) (*Templates, error) {
	t := &Templates{byLang: map[string]langTemplate{}}
	if err := t.add(DefaultLanguage, defaultSubject, defaultBody); err != nil {
		return nil, err
	}
	for lang, raw := range overrides {
		subject, body, ok := strings.Cut(raw, "\n---\n")
		if !ok {
			return nil, fmt.Errorf("template %q: missing --- separator between subject and body", lang)
		}
		if err := t.add(lang, subject, body); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Templates) add(lang, subject, body string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	s, err := template.New(lang + "-subject").Option("missingkey=error").Parse(strings.TrimSpace(subject))
	if err != nil {
		return fmt.Errorf("template %q subject: %w", lang, err)
	}
	b, err := template.New(lang + "-body").Option("missingkey=error").Parse(body)
	if err != nil {
		return fmt.Errorf("template %q body: %w", lang, err)
	}
	t.byLang[lang] = langTemplate{subject: s, body: b}
	return nil
}

// Render produces the subject and body for a language.
func (t *Templates) Render(lang string, data TemplateData) (string, string, error) {
	if t == nil {
		return "", "", errors.New("release template: nil")
	}
	lt, ok := t.byLang[strings.ToLower(strings.TrimSpace(lang))]
	if !ok {
		lt = t.byLang[DefaultLanguage]
	}
	if data.Description == "" {
		data.Description = "No description provided"
	}
	if data.OwnerName == "" {
		data.OwnerName = "the sender"
	}
	var subject, body bytes.Buffer
	if err := lt.subject.Execute(&subject, data); err != nil {
		return "", "", err
	}
	if err := lt.body.Execute(&body, data); err != nil {
		return "", "", err
	}
	return subject.String(), body.String(), nil
}

// FormatTime renders timestamps in messages.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "an unknown time"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
