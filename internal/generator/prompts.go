package generator

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/growthdesk/internal/domain"
	"github.com/ashureev/growthdesk/internal/llm"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Prompt names in the catalog.
const (
	promptInsights     = "insights"
	promptAudit        = "audit"
	promptActionPlan   = "action_plan"
	promptWeeklyPlan   = "weekly_plan"
	promptDeliverable  = "deliverable"
	promptContentIdeas = "content_ideas"
	promptCopy         = "copy"
	promptTrends       = "trends"
	promptRefineScript = "refine_script"
	promptChat         = "chat"
)

var requiredPrompts = []string{
	promptInsights, promptAudit, promptActionPlan, promptWeeklyPlan, promptDeliverable,
	promptContentIdeas, promptCopy, promptTrends, promptRefineScript, promptChat,
}

type languageSpec struct {
	Name        string `yaml:"name"`
	Instruction string `yaml:"instruction"`
}

type promptSpec struct {
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	JSON        bool     `yaml:"json"`
	Temperature *float32 `yaml:"temperature"`
}

type catalogFile struct {
	Languages map[string]languageSpec `yaml:"languages"`
	Prompts   map[string]promptSpec   `yaml:"prompts"`
	Partials  map[string]string       `yaml:"partials"`
}

// Catalog holds the parsed prompt templates.
type Catalog struct {
	languages map[string]languageSpec
	prompts   map[string]promptSpec
	tmpl      *template.Template
}

// promptData is the value every prompt template is executed against.
type promptData struct {
	Language    string
	Instruction string
	Profile     *domain.BusinessProfile
	Audit       *domain.BusinessAudit
	Script      *domain.VideoScript
	Title       string
	Topic       string
	StartDate   string
	Answers     []domain.StepAnswer
	History     []ChatMessage
}

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// DefaultCatalog parses the embedded prompt catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog parses a YAML prompt catalog and compiles its templates.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}

	for _, name := range requiredPrompts {
		if _, ok := file.Prompts[name]; !ok {
			return nil, fmt.Errorf("prompt catalog: missing prompt %q", name)
		}
	}
	for _, lang := range []string{domain.LanguageSpanish, domain.LanguageEnglish} {
		if _, ok := file.Languages[lang]; !ok {
			return nil, fmt.Errorf("prompt catalog: missing language %q", lang)
		}
	}

	root := template.New("catalog").Funcs(templateFuncs)
	for name, body := range file.Partials {
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("prompt catalog: partial %q: %w", name, err)
		}
	}
	for name, p := range file.Prompts {
		if _, err := root.New(name + "/system").Parse(p.System); err != nil {
			return nil, fmt.Errorf("prompt catalog: %s system: %w", name, err)
		}
		if _, err := root.New(name + "/user").Parse(p.User); err != nil {
			return nil, fmt.Errorf("prompt catalog: %s user: %w", name, err)
		}
	}

	return &Catalog{
		languages: file.Languages,
		prompts:   file.Prompts,
		tmpl:      root,
	}, nil
}

// render builds the request for the named prompt in lang.
func (c *Catalog) render(name, lang string, data promptData) (llm.Request, error) {
	p, ok := c.prompts[name]
	if !ok {
		return llm.Request{}, fmt.Errorf("unknown prompt %q", name)
	}
	locale, ok := c.languages[lang]
	if !ok {
		locale = c.languages[domain.LanguageSpanish]
		lang = domain.LanguageSpanish
	}
	data.Language = lang
	data.Instruction = locale.Instruction

	var system, user strings.Builder
	if err := c.tmpl.ExecuteTemplate(&system, name+"/system", data); err != nil {
		return llm.Request{}, fmt.Errorf("render %s system prompt: %w", name, err)
	}
	if err := c.tmpl.ExecuteTemplate(&user, name+"/user", data); err != nil {
		return llm.Request{}, fmt.Errorf("render %s prompt: %w", name, err)
	}

	return llm.Request{
		System:      strings.TrimSpace(system.String()),
		Prompt:      strings.TrimSpace(user.String()),
		JSON:        p.JSON,
		Temperature: p.Temperature,
	}, nil
}
