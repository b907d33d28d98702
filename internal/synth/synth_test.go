package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-labs/swarmd/internal/schema"
)

func TestBlendAllInputs(t *testing.T) {
	result, err := Blend(Inputs{
		Technical:   Input{Score: 0.8, OK: true},
		Fundamental: Input{Score: 0.7, OK: true},
		Sentiment:   Input{Score: 0.6, OK: true},
	}, DefaultWeights(), DefaultThresholds())
	require.NoError(t, err)

	// 0.4*0.8 + 0.3*0.7 + 0.3*0.6 = 0.71
	assert.InDelta(t, 0.71, result.Score, 1e-9)
	assert.Equal(t, schema.ActionBuy, result.Action)
	assert.Empty(t, result.Missing)
	assert.InDelta(t, 1.0, result.EffectiveWeights.Technical+result.EffectiveWeights.Fundamental+result.EffectiveWeights.Sentiment, 1e-9)
}

func TestBlendRenormalizesWhenSentimentMissing(t *testing.T) {
	// NewsHound timed out: sentiment excluded, technical and fundamental
	// weights renormalize to 0.4/0.7 and 0.3/0.7.
	result, err := Blend(Inputs{
		Technical:   Input{Score: 0.7, OK: true},
		Fundamental: Input{Score: 0.5, OK: true},
	}, DefaultWeights(), DefaultThresholds())
	require.NoError(t, err)

	assert.InDelta(t, 0.571, result.EffectiveWeights.Technical, 0.001)
	assert.InDelta(t, 0.429, result.EffectiveWeights.Fundamental, 0.001)
	assert.Zero(t, result.EffectiveWeights.Sentiment)
	assert.InDelta(t, 1.0, result.EffectiveWeights.Technical+result.EffectiveWeights.Fundamental, 1e-9)
	assert.Equal(t, []string{"sentiment"}, result.Missing)

	// 0.571*0.7 + 0.429*0.5 ≈ 0.614
	assert.InDelta(t, 0.6143, result.Score, 0.001)
	assert.Equal(t, schema.ActionBuy, result.Action)
}

func TestBlendSingleInput(t *testing.T) {
	result, err := Blend(Inputs{
		Sentiment: Input{Score: 0.2, OK: true},
	}, DefaultWeights(), DefaultThresholds())
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.EffectiveWeights.Sentiment, 1e-9)
	assert.InDelta(t, 0.2, result.Score, 1e-9)
	assert.Equal(t, schema.ActionSell, result.Action)
	assert.ElementsMatch(t, []string{"technical", "fundamental"}, result.Missing)
}

func TestBlendNoInputs(t *testing.T) {
	_, err := Blend(Inputs{}, DefaultWeights(), DefaultThresholds())
	require.ErrorIs(t, err, ErrNoInputs)
}

func TestBlendThresholdBoundaries(t *testing.T) {
	th := DefaultThresholds()
	w := Weights{Technical: 1}

	cases := []struct {
		score  float64
		action schema.Action
	}{
		{0.56, schema.ActionBuy},
		{0.55, schema.ActionHold},
		{0.50, schema.ActionHold},
		{0.45, schema.ActionHold},
		{0.44, schema.ActionSell},
	}
	for _, tc := range cases {
		result, err := Blend(Inputs{Technical: Input{Score: tc.score, OK: true}}, w, th)
		require.NoError(t, err)
		assert.Equal(t, tc.action, result.Action, "score %v", tc.score)
	}
}

func TestConvictionReadsAsActionStrength(t *testing.T) {
	w := Weights{Technical: 1}
	th := DefaultThresholds()

	strongSell, err := Blend(Inputs{Technical: Input{Score: 0.1, OK: true}}, w, th)
	require.NoError(t, err)
	assert.Equal(t, schema.ActionSell, strongSell.Action)
	assert.InDelta(t, 0.9, strongSell.Confidence, 1e-9)

	firmHold, err := Blend(Inputs{Technical: Input{Score: 0.5, OK: true}}, w, th)
	require.NoError(t, err)
	assert.Equal(t, schema.ActionHold, firmHold.Action)
	assert.InDelta(t, 1.0, firmHold.Confidence, 1e-9)
}

func TestScoreNormalizers(t *testing.T) {
	assert.InDelta(t, 0.85, TechnicalScore("bullish", 0.7), 1e-9)
	assert.InDelta(t, 0.15, TechnicalScore("bearish", 0.7), 1e-9)
	assert.InDelta(t, 0.5, TechnicalScore("neutral", 0.9), 1e-9)

	assert.InDelta(t, 0.7, FundamentalScore(0.55), 1e-9)
	assert.InDelta(t, 0.3, FundamentalScore(0.2), 1e-9)
	assert.InDelta(t, 0.5, FundamentalScore(0.4), 1e-9)

	assert.InDelta(t, 0.75, SentimentScore(0.5), 1e-9)
	assert.InDelta(t, 0.25, SentimentScore(-0.5), 1e-9)
	assert.InDelta(t, 1.0, SentimentScore(2.0), 1e-9)
}

func TestTargets(t *testing.T) {
	target, stop := Targets(schema.ActionBuy, 100, 0.7)
	assert.InDelta(t, 108.4, target, 1e-9)
	assert.InDelta(t, 96.0, stop, 1e-9)

	target, stop = Targets(schema.ActionSell, 100, 0.3)
	assert.InDelta(t, 93.0, target, 1e-9)
	assert.InDelta(t, 104.0, stop, 1e-9)

	target, stop = Targets(schema.ActionHold, 100, 0.5)
	assert.InDelta(t, 100.0, target, 1e-9)
	assert.InDelta(t, 95.0, stop, 1e-9)
}
