package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensor(t *testing.T) {
	assert := assert.New(t)

	testCases := []struct {
		s   Sensor
		dim int
		str string
	}{
		{Position, 2, "position"},
		{Range, 3, "range"},
		{Sensor(0), 0, "Sensor(0)"},
		{Sensor(42), 0, "Sensor(42)"},
	}

	for _, tc := range testCases {
		assert.Equal(tc.dim, tc.s.Dim())
		assert.Equal(tc.str, tc.s.String())
	}
}
