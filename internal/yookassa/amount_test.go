package yookassa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAmount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "integer", input: "10", want: "10.00"},
		{name: "one decimal", input: "10.5", want: "10.50"},
		{name: "two decimals", input: "249.99", want: "249.99"},
		{name: "half rounds away from zero", input: "10.005", want: "10.01"},
		{name: "below half rounds down", input: "10.004", want: "10.00"},
		{name: "many decimals", input: "0.999", want: "1.00"},
		{name: "small positive", input: "0.01", want: "0.01"},
		{name: "large", input: "1000000", want: "1000000.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeAmount(json.Number(tc.input))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeAmountRejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "0", "0.00", "-5", "-0.01", "abc", "NaN", "Inf"} {
		t.Run("input "+input, func(t *testing.T) {
			_, err := NormalizeAmount(json.Number(input))
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}
