package extract

import "strings"

// mod97 runs the ISO 7064 MOD 97-10 reduction over an alphanumeric string,
// expanding letters to two digits (A=10 .. Z=35). Returns -1 on any other
// rune.
func mod97(s string) int {
	r := 0
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
			r = (r*10 + int(ch-'0')) % 97
		case ch >= 'A' && ch <= 'Z':
			v := int(ch-'A') + 10
			r = (r*100 + v) % 97
		default:
			return -1
		}
	}
	return r
}

// ValidateIBAN checks length and the mod-97 checksum after moving the
// country and check digits to the end.
func ValidateIBAN(iban string) bool {
	iban = strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	return mod97(rearranged) == 1
}

// ValidateLEI checks the 20-character form and the embedded mod-97 check
// digits.
func ValidateLEI(lei string) bool {
	lei = strings.ToUpper(strings.TrimSpace(lei))
	if len(lei) != 20 {
		return false
	}
	return mod97(lei) == 1
}
