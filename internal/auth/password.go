package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`\d`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

const minPasswordLength = 8

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Strength labels.
const (
	StrengthWeak       = "DÉBIL"
	StrengthMedium     = "MEDIA"
	StrengthStrong     = "FUERTE"
	StrengthVeryStrong = "MUY_FUERTE"
)

// PasswordCheck is the outcome of ValidatePassword.
type PasswordCheck struct {
	Valid    bool
	Strength string
	Issues   []string
}

// ValidatePassword lists every unmet requirement.
func ValidatePassword(password string) PasswordCheck {
	var issues []string
	if utf8.RuneCountInString(password) < minPasswordLength {
		issues = append(issues, fmt.Sprintf("Debe tener al menos %d caracteres", minPasswordLength))
	}
	if !upperPattern.MatchString(password) {
		issues = append(issues, "Debe incluir al menos una letra mayúscula")
	}
	if !lowerPattern.MatchString(password) {
		issues = append(issues, "Debe incluir al menos una letra minúscula")
	}
	if !digitPattern.MatchString(password) {
		issues = append(issues, "Debe incluir al menos un número")
	}
	if !specialPattern.MatchString(password) {
		issues = append(issues, "Debe incluir al menos un carácter especial")
	}
	return PasswordCheck{
		Valid:    len(issues) == 0,
		Strength: PasswordStrength(password),
		Issues:   issues,
	}
}

// PasswordStrength scores length and character classes on a 0-7 scale.
func PasswordStrength(password string) string {
	n := utf8.RuneCountInString(password)
	score := 0
	for _, ok := range []bool{
		n >= 8,
		n >= 12,
		upperPattern.MatchString(password),
		lowerPattern.MatchString(password),
		digitPattern.MatchString(password),
		specialPattern.MatchString(password),
		n >= 16,
	} {
		if ok {
			score++
		}
	}
	switch {
	case score <= 2:
		return StrengthWeak
	case score <= 4:
		return StrengthMedium
	case score <= 5:
		return StrengthStrong
	}
	return StrengthVeryStrong
}

// MaskEmail hides most of the local part for logs.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
