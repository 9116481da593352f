package immich

import (
	"fmt"
	"time"

	"github.com/labstack/gommon/random"
)

const (
	identifierSuffixLength = 9
	timestampLayout        = "2006-01-02T15:04:05.000Z"
)

// Identifiers are the per-asset fields Immich requires alongside the
// binary content of an upload. They are generated fresh for every
// upload attempt.
type Identifiers struct {
	DeviceAssetID  string
	DeviceID       string
	FileCreatedAt  string
	FileModifiedAt string
}

// newIdentifiers generates identifiers for an asset. An index > 0 is appended
// to the device asset ID, so that assets uploaded as part of the same batch
// remain distinct even if generated within the same millisecond.
func newIdentifiers(prefix string, deviceID string, index int, now time.Time) Identifiers {
	assetID := fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), random.String(identifierSuffixLength, random.Lowercase, random.Numeric))
	if index > 0 {
		assetID = fmt.Sprintf("%s-%d", assetID, index)
	}

	stamp := now.UTC().Format(timestampLayout)
	return Identifiers{
		DeviceAssetID:  assetID,
		DeviceID:       deviceID,
		FileCreatedAt:  stamp,
		FileModifiedAt: stamp,
	}
}

func (ids Identifiers) fields() [][2]string {
	return [][2]string{
		{"deviceAssetId", ids.DeviceAssetID},
		{"deviceId", ids.DeviceID},
		{"fileCreatedAt", ids.FileCreatedAt},
		{"fileModifiedAt", ids.FileModifiedAt},
	}
}
