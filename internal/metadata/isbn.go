package metadata

import (
	"errors"
	"strings"
)

// ErrInvalidISBN is returned for values that are neither a valid ISBN-10 nor
// a valid ISBN-13.
var ErrInvalidISBN = errors.New("invalid isbn")

// NormalizeISBN strips separators, validates the check digit and returns the
// 13 digit form. ISBN-10 values are converted with the 978 prefix.
func NormalizeISBN(value string) (string, error) {
	digits := make([]byte, 0, 13)
	for _, r := range strings.ToUpper(value) {
		switch {
		case r >= '0' && r <= '9', r == 'X':
			digits = append(digits, byte(r))
		case r == '-' || r == ' ':
		default:
			return "", ErrInvalidISBN
		}
	}
	switch len(digits) {
	case 10:
		if !validISBN10(digits) {
			return "", ErrInvalidISBN
		}
		body := append([]byte("978"), digits[:9]...)
		return string(append(body, isbn13Check(body))), nil
	case 13:
		if strings.IndexByte(string(digits), 'X') >= 0 || isbn13Check(digits[:12]) != digits[12] {
			return "", ErrInvalidISBN
		}
		return string(digits), nil
	default:
		return "", ErrInvalidISBN
	}
}

func validISBN10(d []byte) bool {
	sum := 0
	for i, c := range d {
		var v int
		switch {
		case c == 'X' && i == 9:
			v = 10
		case c >= '0' && c <= '9':
			v = int(c - '0')
		default:
			return false
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

func isbn13Check(d []byte) byte {
	sum := 0
	for i, c := range d[:12] {
		w := 1
		if i%2 == 1 {
			w = 3
		}
		sum += w * int(c-'0')
	}
	return byte('0' + (10-sum%10)%10)
}

// ToISBN10 returns the 10 digit form of a 978-prefixed ISBN-13, or "" when
// none exists.
func ToISBN10(isbn13 string) string {
	if len(isbn13) != 13 || !strings.HasPrefix(isbn13, "978") {
		return ""
	}
	body := isbn13[3:12]
	sum := 0
	for i := 0; i < 9; i++ {
		sum += (10 - i) * int(body[i]-'0')
	}
	check := (11 - sum%11) % 11
	if check == 10 {
		return body + "X"
	}
	return body + string(rune('0'+check))
}

// MaskISBN formats a normalised ISBN-13 for display as prefix-body-check
// ("978-207036822-8"). Other values are returned unchanged.
func MaskISBN(isbn13 string) string {
	if len(isbn13) != 13 {
		return isbn13
	}
	return isbn13[:3] + "-" + isbn13[3:12] + "-" + isbn13[12:]
}
