package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testPayload struct {
	TrustScore float64 `json:"trust_score"`
	Reasoning  string  `json:"reasoning"`
}

func TestParseJSONRawParse(t *testing.T) {
	out, ok := ParseJSON[testPayload](`{"trust_score":0.8,"reasoning":"clear signal"}`)
	assert.True(t, ok)
	assert.Equal(t, 0.8, out.TrustScore)
	assert.Equal(t, "clear signal", out.Reasoning)
}

func TestParseJSONStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"trust_score\":0.5,\"reasoning\":\"fenced\"}\n```"
	out, ok := ParseJSON[testPayload](raw)
	assert.True(t, ok)
	assert.Equal(t, 0.5, out.TrustScore)
	assert.Equal(t, "fenced", out.Reasoning)
}

func TestParseJSONFirstToLastBrace(t *testing.T) {
	raw := "Sure, here's the evaluation: {\"trust_score\":0.9,\"reasoning\":\"trailing chatter\"} Let me know if you need more."
	out, ok := ParseJSON[testPayload](raw)
	assert.True(t, ok)
	assert.Equal(t, 0.9, out.TrustScore)
}

func TestParseJSONAllFallbacksFailIsNonFatal(t *testing.T) {
	out, ok := ParseJSON[testPayload]("no json anywhere in this response")
	assert.False(t, ok)
	assert.Equal(t, testPayload{}, out)
}

func TestStripCodeFencesNoFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences(`{"a":1}`))
}

func TestFirstToLastBraceNoBraces(t *testing.T) {
	_, ok := firstToLastBrace("nothing here")
	assert.False(t, ok)
}
