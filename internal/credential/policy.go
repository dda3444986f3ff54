package credential

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/waymark-app/waymark/internal/util"
)

const (
	minPasswordLen = 8
	// bcrypt reads only the first 72 bytes of its input, so a longer
	// password must be refused here with a usable message rather than
	// failing at hash time. The ceiling applies to the normalized form,
	// which is what gets hashed; NFKD can expand the byte count.
	maxPasswordBytes = 72
)

// punctuationClass is the fixed set of special characters the strength
// policy accepts.
const punctuationClass = `!@#$%^&*()_+-=[]{};:'",.<>/?\|~` + "`"

// weakPasswords is a short built-in list of passwords rejected outright
// even when they satisfy the character-class rules.
var weakPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password1!":  {},
	"password123": {},
	"passw0rd":    {},
	"passw0rd!":   {},
	"p@ssword1":   {},
	"p@ssw0rd":    {},
	"p@ssw0rd1":   {},
	"admin123":    {},
	"admin123!":   {},
	"qwerty123":   {},
	"qwerty123!":  {},
	"letmein123":  {},
	"welcome123":  {},
	"welcome1!":   {},
	"changeme1!":  {},
	"iloveyou1":   {},
	"abc123456":   {},
	"123456789a":  {},
}

// CheckPassword validates a candidate password against the strength policy.
// The returned error message names the first violated rule and is safe to
// surface to the caller.
func CheckPassword(pw string) error {
	if len(pw) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if len(util.Normalize(pw)) > maxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordBytes)
	}

	var upper, lower, digit, punct bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(punctuationClass, r):
			punct = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("password must contain an uppercase letter")
	case !lower:
		return fmt.Errorf("password must contain a lowercase letter")
	case !digit:
		return fmt.Errorf("password must contain a digit")
	case !punct:
		return fmt.Errorf("password must contain a special character")
	}

	if _, weak := weakPasswords[strings.ToLower(pw)]; weak {
		return fmt.Errorf("password is too common")
	}
	return nil
}
