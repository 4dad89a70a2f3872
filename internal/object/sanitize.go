package object

import (
	"go/token"
	"strings"
	"unicode"
)

// SanitizeName turns a wire field name into an identifier: characters other
// than letters, digits and '_' become '_', a leading digit gets a '_'
// prefix and Go keywords get a '_' suffix. "image data" becomes
// "image_data", "type" becomes "type_".
func SanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
			sb.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	s := sb.String()
	if token.IsKeyword(s) {
		s += "_"
	}
	return s
}
