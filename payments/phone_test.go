package payments

import (
	"testing"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		local   string
		network string
		ok      bool
	}{
		{"0788123456", "0788123456", NetworkMTN, true},
		{"0798123456", "0798123456", NetworkMTN, true},
		{"250728123456", "0728123456", NetworkAirtel, true},
		{"+250738123456", "0738123456", NetworkAirtel, true},
		{"078 812 3456", "0788123456", NetworkMTN, true},
		{"0758123456", "", "", false},
		{"078812345", "", "", false},
		{"07881234ab", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			local, network, err := NormalizePhone(tt.in)
			if !tt.ok {
				assert.True(t, apperr.Is(err, apperr.CodeValidation))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.local, local)
			assert.Equal(t, tt.network, network)
		})
	}
}
