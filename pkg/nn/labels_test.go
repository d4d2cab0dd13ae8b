package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelFromPercent(t *testing.T) {
	l := LabelFromPercent(0, 10, 20, 30, 40)
	require.Equal(t, "0 0.250000 0.400000 0.300000 0.400000", l.String())

	// Box hanging off the bottom right corner
	l = LabelFromPercent(3, 90, 95, 30, 20)
	require.Equal(t, 1.0, l.CenterX)
	require.Equal(t, 1.0, l.CenterY)
	require.Equal(t, "3 1.000000 1.000000 0.300000 0.200000", l.String())
}

func TestLabelFromPercentIsNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		x := rng.Float64()*300 - 100
		y := rng.Float64()*300 - 100
		w := rng.Float64()*200 + 0.001
		h := rng.Float64()*200 + 0.001
		l := LabelFromPercent(0, x, y, w, h)
		for _, v := range []float64{l.CenterX, l.CenterY, l.Width, l.Height} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}
