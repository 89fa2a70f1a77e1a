package payments

import (
	"strings"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
)

const (
	NetworkMTN    = "MTN"
	NetworkAirtel = "AIRTEL"
)

var mobilePrefixes = map[string]string{
	"078": NetworkMTN,
	"079": NetworkMTN,
	"072": NetworkAirtel,
	"073": NetworkAirtel,
}

// NormalizePhone accepts 07XXXXXXXX, 2507XXXXXXXX and +2507XXXXXXXX and returns
// the local 10 digit form with its network.
func NormalizePhone(raw string) (string, string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(p, "+250"):
		p = "0" + p[4:]
	case strings.HasPrefix(p, "250"):
		p = "0" + p[3:]
	}
	if len(p) != 10 || !allDigits(p) {
		return "", "", apperr.Validation("invalid phone number %q", raw)
	}
	network, ok := mobilePrefixes[p[:3]]
	if !ok {
		return "", "", apperr.Validation("phone number %q is not an MTN or Airtel Rwanda number", raw)
	}
	return p, network, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
