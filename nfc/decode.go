package nfc

import (
	"fmt"

	"golang.org/x/text/encoding/htmlindex"
)

// DecodeRecord maps a record to its text content.
//
// Text-like records are decoded with the record's declared encoding (WHATWG
// labels, default utf-8) when they carry raw bytes and returned unchanged when
// they already carry a string. Unknown and empty records decode to "".
func DecodeRecord(r Record) (string, error) {
	if !r.HasData() {
		return "", NewError(ErrCodeNoData, "DecodeRecord", "record has no data")
	}

	switch {
	case r.RecordType.IsTextLike():
		if r.Raw == nil {
			return r.Text, nil
		}
		return decodeBytes(r.Raw, r.Encoding)
	case r.RecordType == RecordTypeUnknown, r.RecordType == RecordTypeEmpty:
		return "", nil
	default:
		return "", Errorf(ErrCodeUnsupportedRecordType, "DecodeRecord", "unsupported record type: %s", r.RecordType)
	}
}

func decodeBytes(data []byte, label string) (string, error) {
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", WrapError(ErrCodeSyntaxError, "DecodeRecord", fmt.Sprintf("unknown encoding %q", label), err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", WrapError(ErrCodeSyntaxError, "DecodeRecord", fmt.Sprintf("cannot decode %s payload", label), err)
	}
	return string(out), nil
}
