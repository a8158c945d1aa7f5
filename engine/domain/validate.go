package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// dtcRegex is the canonical DTC lexical form: a system letter followed by
// four hex digits. Matching is case-insensitive; canonical form is uppercase.
var dtcRegex = regexp.MustCompile(`^[PBCU][0-9A-Fa-f]{4}$`)

// ValidDTCCode reports whether code matches the canonical DTC lexical form.
func ValidDTCCode(code string) bool {
	return dtcRegex.MatchString(code)
}

// CanonicalDTCCode upper-cases a DTC code and reports whether it is valid.
// Invalid codes are returned unchanged so callers can log the original value.
func CanonicalDTCCode(code string) (string, bool) {
	upper := strings.ToUpper(code)
	return upper, ValidDTCCode(upper)
}

const minModelYear = MinModelYear

// ValidateVehicle validates a make/model/year triple against the known
// reference catalog. An empty model is accepted (some extractions only
// assert a make), but an unrecognized non-empty model is rejected.
func ValidateVehicle(v Vehicle) error {
	models, ok := SupportedMakes[v.Make]
	if !ok {
		return NewValidationError("make", v.Make, ErrUnsupportedMake)
	}
	if v.Model != "" {
		found := false
		for _, m := range models {
			if strings.EqualFold(m, v.Model) {
				found = true
				break
			}
		}
		if !found {
			return NewValidationError("model", v.Model, ErrUnsupportedModel)
		}
	}
	if v.YearStart != 0 && (v.YearStart < minModelYear || v.YearStart > MaxModelYear) {
		return NewValidationError("year_start", fmt.Sprintf("%d", v.YearStart), ErrYearOutOfRange)
	}
	return nil
}

// ValidateUnitScore reports whether a score lies in the closed interval [0,1].
func ValidateUnitScore(name string, v float64) error {
	if v < 0 || v > 1 {
		return NewValidationError(name, fmt.Sprintf("%v", v), ErrInvalidScore)
	}
	return nil
}

// ValidateStage reports whether s is one of the closed-set processing stages.
func ValidateStage(s Stage) error {
	if !ValidStages[s] {
		return NewValidationError("stage", string(s), ErrUnknownStage)
	}
	return nil
}
