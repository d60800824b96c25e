// Package prompt holds the Stage 1 and Stage 2 prompt templates and fills
// their {placeholder} variables.
package prompt

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Template is a system and user prompt pair.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Templates holds the prompt for each model-backed stage.
type Templates struct {
	Extract Template `yaml:"extract"`
	Assign  Template `yaml:"assign"`
}

// Placeholder names understood by the built-in templates.
const (
	VarCompanyName        = "company_name"
	VarCompanyDescription = "company_description"
	VarConversation       = "conversation"
	VarCategories         = "categories"
	VarMinWords           = "min_words"
	VarMaxWords           = "max_words"
	VarReasons            = "reasons"
)

// Defaults returns the built-in templates.
func Defaults() Templates {
	return Templates{
		Extract: Template{
			System: defaultExtractSystem,
			User:   defaultExtractUser,
		},
		Assign: Template{
			System: defaultAssignSystem,
			User:   defaultAssignUser,
		},
	}
}

// LoadFile reads templates from a YAML file with top-level "prompts" key.
// Fields left empty keep their built-in value. An empty path returns the
// defaults.
func LoadFile(path string) (Templates, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "prompt: read %s", path)
	}

	var wrapper struct {
		Prompts Templates `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return t, eris.Wrap(err, "prompt: parse templates")
	}

	return t.Merge(wrapper.Prompts), nil
}

// Merge overlays the non-empty fields of o onto t.
func (t Templates) Merge(o Templates) Templates {
	t.Extract = t.Extract.merge(o.Extract)
	t.Assign = t.Assign.merge(o.Assign)
	return t
}

func (t Template) merge(o Template) Template {
	if strings.TrimSpace(o.System) != "" {
		t.System = o.System
	}
	if strings.TrimSpace(o.User) != "" {
		t.User = o.User
	}
	return t
}

// Fill substitutes {name} placeholders in s. Placeholders without a value
// are left untouched. {conv} is accepted as a synonym of {conversation}.
func Fill(s string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars)+2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	if v, ok := vars[VarConversation]; ok {
		pairs = append(pairs, "{conv}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Render fills both halves of the template.
func (t Template) Render(vars map[string]string) (system, user string) {
	return Fill(t.System, vars), Fill(t.User, vars)
}

const defaultExtractSystem = `You analyze customer service calls for {company_name}. {company_description}
You answer with a single short sentence and nothing else.`

const defaultExtractUser = `Below is a call transcript between an agent and a caller.

<transcript>
{conversation}
</transcript>

For reference, the company groups call reasons into these categories:
{categories}

In {min_words} to {max_words} words, state the main reason the caller contacted {company_name}.
Describe the caller's need, not the agent's actions. Reply with the reason only.`

const defaultAssignSystem = `You map customer call reasons onto a fixed three-level category taxonomy for {company_name}.

Taxonomy (Level 1, indented Level 2, indented Level 3):
{categories}

Each category path is written "Level1 - Level2 - Level3" using names exactly as they appear in the taxonomy.`

const defaultAssignUser = `Assign every reason below to the single best matching category path.

Each input line is "index,reason":
{reasons}

Answer with CSV only, one line per input line, no header, in the form:
index,"reason","Level1 - Level2 - Level3",l3_score,l2_score,l1_score

Scores are integers from 1 (poor match) to 5 (exact match) rating how well the reason fits each level of the chosen path.
Keep every index exactly as given.`
