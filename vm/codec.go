package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	var err error
	if cborEncMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

// EncodeProgram serializes data as canonical CBOR. Equal inputs yield identical bytes.
func EncodeProgram(data *ProgramData) ([]byte, error) {
	b, err := cborEncMode.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode program: %w", err)
	}
	return b, nil
}

// DecodeProgram parses bytes produced by EncodeProgram. The result is not validated until
// it is passed to NewProgram.
func DecodeProgram(b []byte) (*ProgramData, error) {
	var data ProgramData
	if err := cbor.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	return &data, nil
}
