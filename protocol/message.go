package protocol

// MessagePayload is the JSON form of a tag message.
type MessagePayload struct {
	Records []RecordPayload `json:"records"`
}

// RecordPayload is the JSON form of one record.
//
// Clients send the payload either decoded (Data) or as raw bytes (Bytes,
// base64 in JSON). Bytes takes precedence when both are present.
type RecordPayload struct {
	RecordType string `json:"recordType"`          // "text", "url", "mime", ...
	MediaType  string `json:"mediaType,omitempty"` // For mime records
	ID         string `json:"id,omitempty"`
	Data       string `json:"data,omitempty"`
	Bytes      []byte `json:"bytes"`
	Encoding   string `json:"encoding,omitempty"` // WHATWG label, default "utf-8"
	Lang       string `json:"lang,omitempty"`     // BCP 47 language tag for text records
}
