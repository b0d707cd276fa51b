package mailer

import "strings"

// Vars holds the placeholder values available to subject and body templates.
type Vars struct {
	Name  string
	Slug  string
	Group string
}

// Render substitutes {name}, {slug}, and {group} placeholders in template.
func Render(template string, vars Vars) string {
	replacer := strings.NewReplacer(
		"{name}", vars.Name,
		"{slug}", vars.Slug,
		"{group}", vars.Group,
	)
	return replacer.Replace(template)
}
