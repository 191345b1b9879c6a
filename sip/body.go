package sip

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"

	"braces.dev/errtrace"
	"github.com/pion/sdp/v3"

	"github.com/ghettovoice/sipedge/internal/util"
)

// Content types set by default for structured bodies.
const (
	ContentTypeSDP = "application/sdp"
	// ContentTypeGob marks bodies of other Go values, encoded with gob then base64.
	ContentTypeGob = "application/x-gob+base64"
)

// encodeBody renders the response body.
// Raw bodies ([]byte and string) get no content type.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case *sdp.SessionDescription:
		if b == nil {
			return nil, "", nil
		}
		data, err := b.Marshal()
		if err != nil {
			return nil, "", errtrace.Wrap(NewInvalidArgumentError(err))
		}
		return data, ContentTypeSDP, nil
	case sdp.SessionDescription:
		return encodeBody(&b)
	default:
		buf := util.GetBytesBuffer()
		defer util.FreeBytesBuffer(buf)
		if err := gob.NewEncoder(buf).Encode(body); err != nil {
			return nil, "", errtrace.Wrap(NewInvalidArgumentError(err))
		}
		data := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
		base64.StdEncoding.Encode(data, buf.Bytes())
		return data, ContentTypeGob, nil
	}
}

// DecodeGobBody decodes a body encoded with [ContentTypeGob] into v.
func DecodeGobBody(data []byte, v any) error {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return errtrace.Wrap(NewInvalidArgumentError(err))
	}
	return errtrace.Wrap(gob.NewDecoder(bytes.NewReader(raw[:n])).Decode(v))
}
