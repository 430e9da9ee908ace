package payload

import (
	"encoding/binary"
	"fmt"
	"math"

	"pro4cap/pkg/pro4"
)

// PropulsionCommandID is the first payload byte of a thruster power command.
const PropulsionCommandID uint8 = 0xAA

// PropulsionCommand builds the custom-command payload that sets thruster
// power levels. responder is the node id that should answer with telemetry;
// powers are sent as little-endian float32 in node order.
func PropulsionCommand(responder uint8, powers ...float32) ([]byte, error) {
	n := 2 + 4*len(powers)
	if n > pro4.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d powers", ErrTooManyValues, len(powers))
	}
	b := make([]byte, n)
	b[0] = PropulsionCommandID
	b[1] = responder
	for i, p := range powers {
		binary.LittleEndian.PutUint32(b[2+4*i:], math.Float32bits(p))
	}
	return b, nil
}
