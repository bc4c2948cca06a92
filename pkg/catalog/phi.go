package catalog

import (
	"regexp"
	"strings"
)

// phiNames are column names that are always protected, regardless of how
// the source document tags them.
var phiNames = map[string]struct{}{
	// Patient identifiers
	"hn": {}, "cid": {}, "passport": {}, "mrn": {}, "national_id": {},
	"idcard": {}, "pid": {},
	// Names
	"fname": {}, "lname": {}, "mname": {}, "pname": {}, "name": {},
	"fullname": {}, "firstname": {}, "lastname": {}, "middlename": {},
	"prename": {},
	// Contact info
	"phone": {}, "mobile": {}, "tel": {}, "telephone": {}, "email": {},
	"fax": {},
	// Address
	"address": {}, "addrpart": {}, "moo": {}, "road": {}, "tambon": {},
	"amphur": {}, "province": {}, "zipcode": {}, "postcode": {},
	"homeaddr": {}, "workaddr": {},
	// Date of birth
	"dob": {}, "birthdate": {}, "birthday": {}, "bdate": {},
	// Other quasi-identifiers
	"ssn": {}, "social_security": {}, "insurance_id": {}, "member_id": {},
}

// phiPatterns flag names that look protected even when not in the explicit
// list. Matching is fail-closed: a false positive blocks a query, a false
// negative leaks patient data.
var phiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(patient_?)?name`),
	regexp.MustCompile(`(?i)addr(ess)?`),
	regexp.MustCompile(`(?i)phone|mobile|tel`),
	regexp.MustCompile(`(?i)birth`),
	regexp.MustCompile(`(?i)^id_?card`),
}

// IsPHIName reports whether a column name is protected by the explicit
// list or the name patterns.
func IsPHIName(column string) bool {
	column = strings.ToLower(column)
	if _, ok := phiNames[column]; ok {
		return true
	}
	for _, re := range phiPatterns {
		if re.MatchString(column) {
			return true
		}
	}
	return false
}
