package radio

import (
	"crypto/sha1"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// DerivePSK computes the 256-bit WPA/WPA2 pre-shared key from a passphrase
// and SSID (IEEE 802.11i, PBKDF2-HMAC-SHA1, 4096 rounds) and returns it as
// the 64-character hex form accepted by hostapd and wpa_supplicant.
func DerivePSK(passphrase, ssid string) string {
	key := pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New)
	return hex.EncodeToString(key)
}
