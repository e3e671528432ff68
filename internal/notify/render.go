package notify

import "strings"

// RenderTemplate substitutes {key} placeholders with their values. Unknown
// placeholders are left in place so a typo in a stored template is visible
// in the delivered mail instead of silently vanishing.
func RenderTemplate(tpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
