package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const stringArray = `{"type": "array", "items": {"type": "string"}}`

var insightsSchema = `{
	"type": "object",
	"required": ["core_message", "key_strength", "solved_problem"],
	"properties": {
		"core_message": {"type": "string", "minLength": 1},
		"key_strength": {"type": "string", "minLength": 1},
		"solved_problem": {"type": "string", "minLength": 1}
	}
}`

var auditSchema = `{
	"type": "object",
	"required": ["summary", "main_problem", "root_cause", "strengths", "limiting_factors",
		"opportunity", "priority_plan", "anti_actions", "closing"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"main_problem": {"type": "string", "minLength": 1},
		"root_cause": {"type": "string"},
		"strengths": ` + stringArray + `,
		"limiting_factors": ` + stringArray + `,
		"opportunity": {"type": "string"},
		"priority_plan": ` + stringArray + `,
		"anti_actions": ` + stringArray + `,
		"closing": {"type": "string"}
	}
}`

var actionPlanSchema = `{
	"type": "object",
	"required": ["priority_focus", "roadmap", "guided_action"],
	"properties": {
		"priority_focus": {"type": "string", "minLength": 1},
		"roadmap": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["title", "status"],
				"properties": {
					"title": {"type": "string"},
					"objective": {"type": "string"},
					"status": {"enum": ["completed", "active", "locked"]},
					"actions": ` + stringArray + `
				}
			}
		},
		"guided_action": {
			"type": "object",
			"required": ["title", "steps"],
			"properties": {
				"id": {"type": "string"},
				"title": {"type": "string"},
				"why": {"type": "string"},
				"steps": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["title", "fields"],
						"properties": {
							"title": {"type": "string"},
							"prompt": {"type": "string"},
							"fields": {
								"type": "array",
								"items": {
									"type": "object",
									"required": ["id", "label"],
									"properties": {
										"id": {"type": "string"},
										"label": {"type": "string"},
										"placeholder": {"type": "string"}
									}
								}
							}
						}
					}
				}
			}
		},
		"calendar": {"type": "array", "items": {"type": "object"}},
		"video": {"type": "object"},
		"static_copy": {"type": "object"},
		"trends": {"type": "array", "items": {"type": "object"}}
	}
}`

var weeklyPlanSchema = `{
	"type": "object",
	"required": ["week_number", "weekly_priority", "daily_plan"],
	"properties": {
		"week_number": {"type": "integer", "minimum": 1},
		"start_date": {"type": "string"},
		"weekly_priority": {"type": "string", "minLength": 1},
		"daily_plan": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["day", "title"],
				"properties": {
					"day": {"type": "string"},
					"title": {"type": "string"},
					"description": {"type": "string"},
					"channel": {"type": "string"},
					"is_completed": {"type": "boolean"}
				}
			}
		}
	}
}`

var contentIdeasSchema = `{
	"type": "object",
	"required": ["ideas"],
	"properties": {
		"ideas": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["title", "format"],
				"properties": {
					"title": {"type": "string"},
					"format": {"type": "string"},
					"channel": {"type": "string"},
					"hook": {"type": "string"}
				}
			}
		}
	}
}`

var copySchema = `{
	"type": "object",
	"required": ["headline", "body"],
	"properties": {
		"headline": {"type": "string", "minLength": 1},
		"body": {"type": "string", "minLength": 1},
		"call_to_action": {"type": "string"}
	}
}`

var trendsSchema = `{
	"type": "object",
	"required": ["trends"],
	"properties": {
		"trends": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["title", "description"],
				"properties": {
					"title": {"type": "string"},
					"description": {"type": "string"},
					"relevance": {"type": "string"}
				}
			}
		}
	}
}`

var scriptSchema = `{
	"type": "object",
	"required": ["hook", "body", "call_to_action"],
	"properties": {
		"hook": {"type": "string", "minLength": 1},
		"body": {"type": "string", "minLength": 1},
		"call_to_action": {"type": "string"}
	}
}`

// schema is a compiled JSON schema for one structured response.
type schema struct {
	name     string
	compiled *gojsonschema.Schema
}

func mustSchema(name, src string) *schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return &schema{name: name, compiled: compiled}
}

var (
	schemaInsights     = mustSchema("insights", insightsSchema)
	schemaAudit        = mustSchema("audit", auditSchema)
	schemaActionPlan   = mustSchema("action_plan", actionPlanSchema)
	schemaWeeklyPlan   = mustSchema("weekly_plan", weeklyPlanSchema)
	schemaContentIdeas = mustSchema("content_ideas", contentIdeasSchema)
	schemaCopy         = mustSchema("copy", copySchema)
	schemaTrends       = mustSchema("trends", trendsSchema)
	schemaScript       = mustSchema("script", scriptSchema)
)

// decode extracts, validates and unmarshals a structured response into out.
// Any failure is a malformed-output error; nothing is partially accepted.
func (s *schema) decode(content string, out any) error {
	doc, err := extractJSON(content)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	result, err := s.compiled.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, s.name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrMalformedOutput, s.name, strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, s.name, err)
	}
	return nil
}
