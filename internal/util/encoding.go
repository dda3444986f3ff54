package util

import (
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD normalization so that visually equivalent Unicode
// passphrases compare equal regardless of how the client encoded them.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}
