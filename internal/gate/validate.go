package gate

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	MsgEmailRequired = "Email is required"
	MsgEmailInvalid  = "Enter a valid email"
	MsgPhoneRequired = "Mobile number is required"
	MsgPhoneInvalid  = "Enter a valid mobile number"
)

// RE2's \s is ASCII only. \v, \p{Z} and U+FEFF extend it to Unicode spaces
// such as NBSP.
var (
	emailPattern = regexp.MustCompile(`^[^\s\v\p{Z}\x{FEFF}@]+@[^\s\v\p{Z}\x{FEFF}@]+\.[^\s\v\p{Z}\x{FEFF}@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-.\s\v\p{Z}\x{FEFF}]{7,20}$`)
)

func isBlank(r rune) bool { return unicode.IsSpace(r) || r == '\uFEFF' }

// Validate checks the submitted contact details in order and returns the first
// failure message, or "" when both are acceptable.
func Validate(email, phone string) string {
	email = strings.TrimFunc(email, isBlank)
	phone = strings.TrimFunc(phone, isBlank)

	if email == "" {
		return MsgEmailRequired
	}
	if !emailPattern.MatchString(email) {
		return MsgEmailInvalid
	}
	if phone == "" {
		return MsgPhoneRequired
	}
	if !phonePattern.MatchString(phone) {
		return MsgPhoneInvalid
	}
	return ""
}
