package account

import (
	"crypto/md5" //nolint:gosec // Fingerprint derivation, not security
	"encoding/hex"
	"math/big"
)

// Device is the hardware fingerprint presented to the remote service.
type Device struct {
	ID                   string
	Brand                string
	Model                string
	ModelBoot            string
	HardwareManufacturer string
	HardwareModel        string
	FirmwareBrand        string
	FirmwareType         string
}

type iphone struct {
	boot     string
	hardware string
}

var iphones = []iphone{
	{"iPhone5,1", "N41AP"},
	{"iPhone5,2", "N42AP"},
	{"iPhone5,3", "N48AP"},
	{"iPhone5,4", "N49AP"},
	{"iPhone6,1", "N51AP"},
	{"iPhone6,2", "N53AP"},
	{"iPhone7,1", "N56AP"},
	{"iPhone7,2", "N61AP"},
	{"iPhone8,1", "N71AP"},
	{"iPhone8,2", "N66AP"},
	{"iPhone8,4", "N69AP"},
	{"iPhone9,1", "D10AP"},
	{"iPhone9,2", "D11AP"},
	{"iPhone9,3", "D101AP"},
	{"iPhone9,4", "D111AP"},
	{"iPhone10,1", "D20AP"},
	{"iPhone10,2", "D21AP"},
	{"iPhone10,3", "D22AP"},
	{"iPhone10,4", "D201AP"},
	{"iPhone10,5", "D211AP"},
	{"iPhone10,6", "D221AP"},
}

var (
	ios9 = []string{"9.0", "9.0.1", "9.0.2", "9.1", "9.2", "9.2.1", "9.3", "9.3.1",
		"9.3.2", "9.3.3", "9.3.4", "9.3.5"}
	ios93 = []string{"9.3", "9.3.1", "9.3.2", "9.3.3", "9.3.4", "9.3.5"}
	ios10 = []string{"10.0.1", "10.0.2", "10.0.3", "10.1", "10.1.1", "10.2", "10.2.1", "10.3", "10.3.1", "10.3.2", "10.3.3"}
	ios11 = []string{"11.0.1", "11.0.2", "11.0.3", "11.1", "11.1.1", "11.1.2"}
)

func concat(pools ...[]string) []string {
	var out []string
	for _, p := range pools {
		out = append(out, p...)
	}
	return out
}

// firmwarePool returns the iOS versions a model plausibly runs.
func firmwarePool(boot string) []string {
	switch boot {
	case "iPhone10,1", "iPhone10,2", "iPhone10,3", "iPhone10,4", "iPhone10,5", "iPhone10,6":
		return ios11
	case "iPhone9,1", "iPhone9,2", "iPhone9,3", "iPhone9,4":
		return concat(ios10, ios11)
	case "iPhone8,4":
		return concat(ios93, ios10, ios11)
	case "iPhone5,1", "iPhone5,2", "iPhone5,3", "iPhone5,4":
		return concat(ios9, ios10)
	default:
		return concat(ios9, ios10, ios11)
	}
}

// DeviceFor derives a stable device fingerprint from the credentials, so an
// account always presents the same phone.
func DeviceFor(username, password string) Device {
	sum := md5.Sum([]byte(username + password)) //nolint:gosec // Fingerprint derivation, not security
	pick := new(big.Int).SetBytes(sum[:])

	mod := func(n int) int {
		return int(new(big.Int).Mod(pick, big.NewInt(int64(n))).Int64())
	}

	phone := iphones[mod(len(iphones))]
	pool := firmwarePool(phone.boot)

	return Device{
		ID:                   hex.EncodeToString(sum[:]),
		Brand:                "Apple",
		Model:                "iPhone",
		ModelBoot:            phone.boot,
		HardwareManufacturer: "Apple",
		HardwareModel:        phone.hardware,
		FirmwareBrand:        "iPhone OS",
		FirmwareType:         pool[mod(len(pool))],
	}
}
