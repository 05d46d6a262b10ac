package hardware

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/juju/errors"
)

const identityAppID = "gpsbridge"

// Identity returns configured IMEI or a stable app specific machine id.
func Identity(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	id, err := machineid.ProtectedID(identityAppID)
	if err != nil {
		return "", errors.Annotate(err, "machineid")
	}
	// full hmac is 64 hex chars, keep greeting readable
	if len(id) > 16 {
		id = id[:16]
	}
	return id, nil
}
