// Package codec encodes the free-form parts of stored documents (resource
// config, content fields, precomputed artifacts) as deterministic CBOR.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: sorted map keys and smallest
// integer encodings, so equal documents produce equal bytes.
var encMode cbor.EncMode

// decMode decodes maps into map[string]any and integers into int64 so
// decoded documents look like the JSON payloads they came from.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		IntDec:          cbor.IntDecConvertSigned,
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v. A nil value encodes to nil bytes.
func Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Empty data leaves v untouched.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return decMode.Unmarshal(data, v)
}
