// Package params_test tests parameter resolution and clamping.
package params_test

import (
	"testing"

	"github.com/book-expert/higgs-tts/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Defaults(t *testing.T) {
	t.Parallel()

	got, fallbacks, err := params.Resolve(params.Raw{Text: params.Of("  Hello world  ")}, params.HTTPBounds(0))
	require.NoError(t, err)
	assert.Empty(t, fallbacks)

	assert.Equal(t, "Hello world", got.Text)
	assert.InEpsilon(t, params.DefaultTemperature, got.Temperature, 0.0001)
	assert.InEpsilon(t, params.DefaultTopP, got.TopP, 0.0001)
	assert.Equal(t, params.DefaultMaxNewTokens, got.MaxNewTokens)
}

func TestResolve_MissingText(t *testing.T) {
	t.Parallel()

	for _, raw := range []params.Raw{
		{},
		{Text: params.Of("")},
		{Text: params.Of(" \t\n ")},
	} {
		_, _, err := params.Resolve(raw, params.HTTPBounds(0))
		require.ErrorIs(t, err, params.ErrMissingText)
	}
}

func TestResolve_Clamping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		temperature string
		topP        string
		maxTokens   string
		bounds      params.Bounds
		wantTemp    float64
		wantTopP    float64
		wantTokens  int
	}{
		{
			name: "below lower bounds", temperature: "0", topP: "-3", maxTokens: "5",
			bounds: params.HTTPBounds(0), wantTemp: 0.1, wantTopP: 0.1, wantTokens: 128,
		},
		{
			name: "above upper bounds", temperature: "9.5", topP: "1.5", maxTokens: "100000",
			bounds: params.HTTPBounds(0), wantTemp: 2.0, wantTopP: 1.0, wantTokens: 4096,
		},
		{
			name: "in range", temperature: "0.7", topP: "0.8", maxTokens: "2048",
			bounds: params.HTTPBounds(0), wantTemp: 0.7, wantTopP: 0.8, wantTokens: 2048,
		},
		{
			name: "cli has no token cap", temperature: "1", topP: "1", maxTokens: "100000",
			bounds: params.CLIBounds(), wantTemp: 1.0, wantTopP: 1.0, wantTokens: 100000,
		},
		{
			name: "custom cap", temperature: "+Inf", topP: "1", maxTokens: "9000",
			bounds: params.HTTPBounds(8192), wantTemp: 2.0, wantTopP: 1.0, wantTokens: 8192,
		},
		{
			name: "overflow saturates high", temperature: "1e400", topP: "1e400", maxTokens: "99999999999999999999",
			bounds: params.HTTPBounds(0), wantTemp: 2.0, wantTopP: 1.0, wantTokens: 4096,
		},
		{
			name: "overflow saturates low", temperature: "-1e400", topP: "1e-400", maxTokens: "-99999999999999999999",
			bounds: params.HTTPBounds(0), wantTemp: 0.1, wantTopP: 0.1, wantTokens: 128,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, fallbacks, err := params.Resolve(params.Raw{
				Text:         params.Of("hi"),
				Temperature:  params.Of(testCase.temperature),
				TopP:         params.Of(testCase.topP),
				MaxNewTokens: params.Of(testCase.maxTokens),
			}, testCase.bounds)
			require.NoError(t, err)
			assert.Empty(t, fallbacks)
			assert.InDelta(t, testCase.wantTemp, got.Temperature, 0.0001)
			assert.InDelta(t, testCase.wantTopP, got.TopP, 0.0001)
			assert.Equal(t, testCase.wantTokens, got.MaxNewTokens)
		})
	}
}

func TestResolve_UnparseableFallsBack(t *testing.T) {
	t.Parallel()

	got, fallbacks, err := params.Resolve(params.Raw{
		Text:         params.Of("hi"),
		Temperature:  params.Of("warm"),
		TopP:         params.Of("NaN"),
		MaxNewTokens: params.Of("1500.5"),
	}, params.HTTPBounds(0))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		params.FieldTemperature, params.FieldTopP, params.FieldMaxNewTokens,
	}, fallbacks)
	assert.InEpsilon(t, params.DefaultTemperature, got.Temperature, 0.0001)
	assert.InEpsilon(t, params.DefaultTopP, got.TopP, 0.0001)
	assert.Equal(t, params.DefaultMaxNewTokens, got.MaxNewTokens)
}

func TestParseFloat_BlankIsDefault(t *testing.T) {
	t.Parallel()

	v, ok := params.ParseFloat(params.Of("   "), 0.95)
	assert.True(t, ok)
	assert.InEpsilon(t, 0.95, v, 0.0001)

	n, ok := params.ParseInt(params.Value{}, 1024)
	assert.True(t, ok)
	assert.Equal(t, 1024, n)
}
