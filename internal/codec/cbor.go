package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the wire codec shared by the client engines and the fake backend.
//
// Times travel as RFC 3339 text so rows read through the Postgres engine
// and rows pushed by the hosted backend decode the same way.
// Maps decode as map[string]any rather than CBOR's default map[any]any.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var (
	_ Marshaler   = (*CBOR)(nil)
	_ Unmarshaler = (*CBOR)(nil)
)

func NewCBOR() *CBOR {
	enc, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}

// Convert re-encodes src and decodes it into dst. It is how loosely typed
// rows (map[string]any) become model structs.
func Convert(c *CBOR, src, dst any) error {
	data, err := c.Marshal(src)
	if err != nil {
		return err
	}
	return c.Unmarshal(data, dst)
}
