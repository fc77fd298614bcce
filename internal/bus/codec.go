package bus

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so identical messages encode to identical bytes.
var encMode cbor.EncMode

// decMode ignores unknown fields so older consumers tolerate newer producers.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bus: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bus: CBOR decoder initialization failed: " + err.Error())
	}
}

// RawMessage is an encoded payload whose decoding is deferred to the handler.
type RawMessage = cbor.RawMessage

// Marshal encodes v with the bus wire encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes bus wire data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
