package nfc

import (
	"fmt"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/language"
)

// RecordType tags a record's payload kind.
type RecordType string

// Record types recognized by the decoder. Other values (e.g. a bare media type
// like "image/png") can still be carried by a Record.
const (
	RecordTypeText        RecordType = "text"
	RecordTypeMime        RecordType = "mime"
	RecordTypeSmartPoster RecordType = "smart-poster"
	RecordTypeAbsoluteURL RecordType = "absolute-url"
	RecordTypeURL         RecordType = "url"
	RecordTypeUnknown     RecordType = "unknown"
	RecordTypeEmpty       RecordType = "empty"
)

// DefaultEncoding is used when a record does not declare one.
const DefaultEncoding = "utf-8"

// GetAllRecordTypes returns all recognized record types.
func GetAllRecordTypes() []RecordType {
	return []RecordType{
		RecordTypeText,
		RecordTypeMime,
		RecordTypeSmartPoster,
		RecordTypeAbsoluteURL,
		RecordTypeURL,
		RecordTypeUnknown,
		RecordTypeEmpty,
	}
}

// IsTextLike reports whether payloads of this type decode to a string.
func (t RecordType) IsTextLike() bool {
	switch t {
	case RecordTypeText, RecordTypeMime, RecordTypeSmartPoster, RecordTypeAbsoluteURL, RecordTypeURL:
		return true
	}
	return false
}

// Record is one payload unit of a tag message.
//
// The payload is held either as a raw byte view (Raw) or as an already
// decoded string (Text). Raw takes precedence when both are set. A non-nil
// empty Raw is a valid, empty payload; an empty Text is no payload at all.
type Record struct {
	RecordType RecordType `json:"recordType"`
	MediaType  string     `json:"mediaType,omitempty"`
	ID         string     `json:"id,omitempty"`
	Text       string     `json:"text,omitempty"`
	Raw        []byte     `json:"raw"` // base64 in JSON, null when unset
	Encoding   string     `json:"encoding,omitempty"`
	Lang       string     `json:"lang,omitempty"`
}

// HasData reports whether the record carries a payload.
func (r Record) HasData() bool {
	return r.Raw != nil || r.Text != ""
}

// Validate checks the optional metadata of a record that is about to be
// written.
func (r Record) Validate() error {
	if r.Lang != "" {
		if _, err := language.Parse(r.Lang); err != nil {
			return WrapError(ErrCodeSyntaxError, "Validate", fmt.Sprintf("invalid language tag %q", r.Lang), err)
		}
	}
	if r.Encoding != "" {
		if _, err := htmlindex.Get(r.Encoding); err != nil {
			return WrapError(ErrCodeSyntaxError, "Validate", fmt.Sprintf("unknown encoding %q", r.Encoding), err)
		}
	}
	if r.RecordType == RecordTypeMime && r.MediaType == "" {
		return NewError(ErrCodeSyntaxError, "Validate", "mime record requires a media type")
	}
	return nil
}

// NewTextRecord creates a text record. An empty lang leaves the language
// undeclared.
func NewTextRecord(text, lang string) Record {
	return Record{
		RecordType: RecordTypeText,
		Text:       text,
		Encoding:   DefaultEncoding,
		Lang:       lang,
	}
}

// NewURLRecord creates a URL record.
func NewURLRecord(url string) Record {
	return Record{RecordType: RecordTypeURL, Text: url}
}

// NewMimeRecord creates a mime record holding raw bytes.
func NewMimeRecord(mediaType string, data []byte) Record {
	if data == nil {
		data = []byte{}
	}
	return Record{RecordType: RecordTypeMime, MediaType: mediaType, Raw: data}
}

// Message is the full payload of one tag: an ordered list of records.
type Message struct {
	Records []Record `json:"records"`
}

// NewMessage creates a message from records.
func NewMessage(records ...Record) Message {
	return Message{Records: records}
}

// Validate checks every record of the message.
func (m Message) Validate() error {
	for i, r := range m.Records {
		if err := r.Validate(); err != nil {
			if nfcErr, ok := err.(*NFCError); ok {
				nfcErr.Message = fmt.Sprintf("record %d: %s", i, nfcErr.Message)
			}
			return err
		}
	}
	return nil
}

// Text returns the decoded content of the first text record.
func (m Message) Text() (string, error) {
	for _, r := range m.Records {
		if r.RecordType != RecordTypeText {
			continue
		}
		return DecodeRecord(r)
	}
	return "", NewError(ErrCodeNoData, "Text", "no text record found in message")
}

// ReadingEvent is emitted by the host for each detected tag.
type ReadingEvent struct {
	SerialNumber string  `json:"serialNumber"`
	Message      Message `json:"message"`
}
