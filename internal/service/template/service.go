package template

import (
	"fmt"
	"strings"
)

// ContactData is the per-recipient substitution input.
type ContactData struct {
	Name     string
	Phone    string
	Platform string
}

// Render substitutes `{placeholder}` tokens in body: the contact fields
// ({name}, {phone}, {platform}) plus any static parameter by key. Purely
// functional; unmatched tokens are left as-is so a typo is visible in the
// delivered text rather than silently blanked.
func Render(body string, contact ContactData, staticParams map[string]string) string {
	message := body
	message = replace(message, "{name}", contact.Name)
	message = replace(message, "{phone}", contact.Phone)
	message = replace(message, "{platform}", contact.Platform)

	for key, value := range staticParams {
		message = replace(message, fmt.Sprintf("{%s}", key), value)
	}
	return message
}

func replace(body, placeholder, value string) string {
	if value == "" {
		return body
	}
	return strings.ReplaceAll(body, placeholder, value)
}
