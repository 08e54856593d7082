package domain

import (
	"strings"
)

// OrgNumber is a Swedish national organisation identifier in its canonical
// 10-digit form. The last digit is a Luhn check digit over the first nine.
type OrgNumber string

// ParseOrgNumber normalises and validates raw input. Accepted forms are
// "NNNNNN-NNNN", "NNNNNNNNNN" and the 12-digit variants with a century
// ("18", "19", "20") or "16" prefix.
func ParseOrgNumber(raw string) (OrgNumber, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) == 12 {
		switch s[:2] {
		case "16", "18", "19", "20":
			s = s[2:]
		default:
			return "", &ValidationError{Field: "orgnr", Reason: "12-digit form needs a 16, 18, 19 or 20 prefix"}
		}
	}
	if len(s) != 10 {
		return "", &ValidationError{Field: "orgnr", Reason: "must contain 10 digits"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "orgnr", Reason: "must contain only digits"}
		}
	}
	if luhnCheckDigit(s[:9]) != s[9] {
		return "", &ValidationError{Field: "orgnr", Reason: "checksum digit mismatch"}
	}
	return OrgNumber(s), nil
}

// MustOrgNumber is ParseOrgNumber for constants and tests.
func MustOrgNumber(raw string) OrgNumber {
	n, err := ParseOrgNumber(raw)
	if err != nil {
		panic(err)
	}
	return n
}

func (n OrgNumber) String() string { return string(n) }

// Formatted renders the number the way the registry prints it, NNNNNN-NNNN.
func (n OrgNumber) Formatted() string {
	if len(n) != 10 {
		return string(n)
	}
	return string(n[:6]) + "-" + string(n[6:])
}

func luhnCheckDigit(digits string) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[i] - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}
