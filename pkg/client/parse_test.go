package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeModelJSON(t *testing.T) {
	raw := "```json\n{\n  // faces found\n  \"faces\": [{\"confidence\": 0.9, \"box\": {\"x\": 0.1, \"y\": 0.2, \"w\": 0.3, \"h\": 0.4},}],\n  /* note */ \"description\": \"one face\",\n}\n```"
	got := SanitizeModelJSON(raw)

	assert.Equal(t, byte('{'), got[0])
	assert.Equal(t, byte('}'), got[len(got)-1])
	assert.NotContains(t, got, "//")
	assert.NotContains(t, got, "/*")
	assert.NotContains(t, got, ",}")
}

func TestParseFaceAnalysis(t *testing.T) {
	raw := "Sure! {\"faces\": [{\"confidence\": 0.9, \"box\": {\"x\": 0.1, \"y\": 0.2, \"w\": 0.3, \"h\": 0.4}}], \"description\": \"one face\"} Hope that helps."
	res := ParseFaceAnalysis(raw)
	require.Len(t, res.Faces, 1)
	assert.InDelta(t, 0.9, res.Faces[0].Confidence, 1e-9)
	assert.InDelta(t, 0.3, res.Faces[0].Box.W, 1e-9)
	assert.Equal(t, "one face", res.Description)
}

func TestParseFaceAnalysisFallback(t *testing.T) {
	res := ParseFaceAnalysis("I cannot see any image.")
	assert.Empty(t, res.Faces)
	assert.NotEmpty(t, res.Description)

	res = ParseFaceAnalysis("{\"faces\": [oops]}")
	assert.Empty(t, res.Faces)
	assert.Equal(t, "failed to parse model response", res.Description)
}
