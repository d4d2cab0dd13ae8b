package inference

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsImgSize(t *testing.T) {
	require.Equal(t, 640, NewSettings(650, 0.25, 0.45, 300, 4, nil).ImgSize)
	require.Equal(t, 32, NewSettings(10, 0.25, 0.45, 300, 4, nil).ImgSize)
	require.Equal(t, 2048, NewSettings(5000, 0.25, 0.45, 300, 4, nil).ImgSize)
	require.Equal(t, 64, NewSettings(95, 0.25, 0.45, 300, 4, nil).ImgSize)
}

func TestParseSettings(t *testing.T) {
	s := ParseSettings(url.Values{})
	require.Equal(t, DefaultSettings(), s)
	require.Equal(t, 640, s.ImgSize)
	require.Equal(t, 0.25, s.MinConfidence)
	require.Equal(t, 0.45, s.MinIoU)
	require.Equal(t, 300, s.MaxBoxes)
	require.Equal(t, 4, s.NumWorkers)
	require.Nil(t, s.ClassNames)

	s = ParseSettings(url.Values{
		"img_size":       {" 650 "},
		"min_confidence": {"2"},
		"min_iou":        {"nan"},
		"max_bbox":       {"0"},
		"num_workers":    {"abc"},
		"class_names":    {`[" cat ", "", "dog", 7]`},
	})
	require.Equal(t, 640, s.ImgSize)
	require.Equal(t, 1.0, s.MinConfidence)
	require.Equal(t, 0.45, s.MinIoU)
	require.Equal(t, 1, s.MaxBoxes)
	require.Equal(t, 4, s.NumWorkers)
	require.Equal(t, []string{"cat", "dog", "7"}, s.ClassNames)
}

func TestParseClassNames(t *testing.T) {
	require.Equal(t, []string{"cat", "dog"}, ParseClassNames("cat\r\n\n  dog  \n"))
	require.Nil(t, ParseClassNames(""))
	require.Nil(t, ParseClassNames("[]"))
	require.Nil(t, ParseClassNames(`"cat"`))
	require.Nil(t, ParseClassNames("\n \n"))
}
