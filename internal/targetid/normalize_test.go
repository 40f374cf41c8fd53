package targetid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"mux6":              "mux:2",
		"MUX_6":             "mux:2",
		"multiplexer-11":    "mux:3",
		"target_mux11":      "mux:3",
		"benchmark-mux20":   "mux:4",
		"mux37":             "mux:5",
		"mux3":              "mux:1",
		"majority16":        "threshold:16:7:9",
		"Threshold_16":      "threshold:16:7:9",
		"mux:2":             "mux:2",
		" Threshold:8:3:5 ": "threshold:8:3:5",
		"mux7":              "mux7",
		"custom_target":     "custom-target",
		"":                  "",
	}

	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "normalize(%q)", in)
	}
}
