package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidDTCCode(t *testing.T) {
	cases := map[string]bool{
		"P0301": true,
		"p0301": true,
		"U0A1F": true,
		"B00ff": true,
		"C1234": true,
		"X0301": false,
		"P030":  false,
		"P03011": false,
		"":      false,
	}
	for code, want := range cases {
		assert.Equalf(t, want, ValidDTCCode(code), "code=%q", code)
	}
}

func TestCanonicalDTCCode(t *testing.T) {
	canon, ok := CanonicalDTCCode("p0301")
	require.True(t, ok)
	assert.Equal(t, "P0301", canon)

	_, ok = CanonicalDTCCode("zzzzz")
	assert.False(t, ok)
}

func TestValidateVehicle(t *testing.T) {
	require.NoError(t, ValidateVehicle(Vehicle{Make: "Ford", Model: "F-150", YearStart: 2015}))
	require.NoError(t, ValidateVehicle(Vehicle{Make: "Ford"}))

	err := ValidateVehicle(Vehicle{Make: "Yugo"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, ErrUnsupportedMake)

	err = ValidateVehicle(Vehicle{Make: "Ford", Model: "Civic"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	err = ValidateVehicle(Vehicle{Make: "Ford", YearStart: 1900})
	assert.ErrorIs(t, err, ErrYearOutOfRange)
}

func TestValidateUnitScore(t *testing.T) {
	require.NoError(t, ValidateUnitScore("trust", 0))
	require.NoError(t, ValidateUnitScore("trust", 1))
	require.NoError(t, ValidateUnitScore("trust", 0.5))
	assert.Error(t, ValidateUnitScore("trust", -0.1))
	assert.Error(t, ValidateUnitScore("trust", 1.1))
}

func TestValidateStage(t *testing.T) {
	require.NoError(t, ValidateStage(StageChunking))
	assert.Error(t, ValidateStage(Stage("bogus")))
}

func TestStageNextAndQueue(t *testing.T) {
	next, ok := StagePending.Next()
	require.True(t, ok)
	assert.Equal(t, StageChunking, next)

	_, ok = StageComplete.Next()
	assert.False(t, ok)

	q, ok := StageEvaluating.Queue()
	require.True(t, ok)
	assert.Equal(t, QueueEvaluate, q)

	_, ok = StageError.Queue()
	assert.False(t, ok)
}

func TestStageErrorKind(t *testing.T) {
	base := errors.New("boom")
	assert.Equal(t, KindTransient, KindOf(Transient(base)))
	assert.Equal(t, KindPermanent, KindOf(Permanent(base)))
	assert.Equal(t, KindInvariant, KindOf(Invariant(base)))
	assert.Equal(t, KindPoison, KindOf(Poison(base)))
	assert.Equal(t, KindFatal, KindOf(Fatal(base)))
	// Untagged errors default to permanent: fail closed.
	assert.Equal(t, KindPermanent, KindOf(base))
}

func TestNormalizeClosedSets(t *testing.T) {
	assert.Equal(t, DomainEngine, NormalizeDomain("engine"))
	assert.Equal(t, DomainUnknown, NormalizeDomain("bogus"))
	assert.Equal(t, CategoryTSBBulletin, NormalizeCategory("tsb_bulletin"))
	assert.Equal(t, CategoryGeneralReference, NormalizeCategory("bogus"))
	assert.Equal(t, SeverityCritical, NormalizeSeverity("critical"))
	assert.Equal(t, SeverityInformational, NormalizeSeverity("bogus"))
	assert.Equal(t, LikelihoodHigh, NormalizeLikelihood("high"))
	assert.Equal(t, LikelihoodMedium, NormalizeLikelihood("bogus"))
}
