package radio

import (
	"strconv"
	"strings"
	"time"
)

// Association is one station in the access point's association table.
type Association struct {
	MAC       string // upper-case, colon separated
	Signal    int    // dBm, 0 if unknown
	Inactive  time.Duration
	Connected time.Duration
}

// NormalizeMAC returns mac in upper-case colon form. It accepts colon,
// hyphen or bare hex notation.
func NormalizeMAC(mac string) (string, bool) {
	hexDigits := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac))
	if len(hexDigits) != 12 {
		return "", false
	}
	for _, c := range hexDigits {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return "", false
		}
	}
	hexDigits = strings.ToUpper(hexDigits)
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hexDigits[i : i+2])
	}
	return b.String(), true
}

// LocallyAdministered reports whether mac has the U/L bit set, which is
// the case for randomized (private) addresses.
func LocallyAdministered(mac string) bool {
	norm, ok := NormalizeMAC(mac)
	if !ok {
		return false
	}
	b, err := strconv.ParseUint(norm[:2], 16, 8)
	if err != nil {
		return false
	}
	return b&0x02 != 0
}
