package phi

import (
	"regexp"
)

const (
	Placeholder = "<PHI>"
)

type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
}

var Patterns = []Pattern{
	{"phone_in", regexp.MustCompile(`(?:\+91|\b91|\b)[6-9]\d{9}\b`)},
	{"phone_us", regexp.MustCompile(`(?:\(\d{3}\)\s*|\b\d{3}-)\d{3}-\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"person_title", regexp.MustCompile(`\b(?:Dr\.?|Doctor|Patient|Pt\.?)\s+[A-Z][a-z]+\s+[A-Z][a-z]+\b`)},
	{"record_id", regexp.MustCompile(`(?i)\b(?:MRN|Patient\s*ID|Encounter\s*ID|Clinic\s*ID)\s*:?\s*[A-Za-z0-9-]+\b`)},
	{"birth_date", regexp.MustCompile(`(?i)\b(?:DOB|Birth|Admission|Discharge)\s*:?\s*\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"card", regexp.MustCompile(`\b\d{4}[\s-]\d{4}[\s-]\d{4}[\s-]\d{4}\b`)},
}

// Detect returns the names of the patterns found in s.
func Detect(s string) []string {
	var found []string
	for _, p := range Patterns {
		if p.Regexp.MatchString(s) {
			found = append(found, p.Name)
		}
	}
	return found
}

func Contains(s string) bool {
	for _, p := range Patterns {
		if p.Regexp.MatchString(s) {
			return true
		}
	}
	return false
}

func Redact(s string) string {
	for _, p := range Patterns {
		s = p.Regexp.ReplaceAllString(s, Placeholder)
	}
	return s
}
