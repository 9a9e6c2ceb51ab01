package remotehost

import (
	"fmt"

	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/protocol"
)

// ToMessagePayload converts an nfc.Message to its wire form.
func ToMessagePayload(msg nfc.Message) protocol.MessagePayload {
	records := make([]protocol.RecordPayload, 0, len(msg.Records))
	for _, r := range msg.Records {
		records = append(records, protocol.RecordPayload{
			RecordType: string(r.RecordType),
			MediaType:  r.MediaType,
			ID:         r.ID,
			Data:       r.Text,
			Bytes:      r.Raw,
			Encoding:   r.Encoding,
			Lang:       r.Lang,
		})
	}
	return protocol.MessagePayload{Records: records}
}

// FromMessagePayload converts a wire message to an nfc.Message.
func FromMessagePayload(data protocol.MessagePayload) (nfc.Message, error) {
	records := make([]nfc.Record, 0, len(data.Records))
	for i, r := range data.Records {
		if r.RecordType == "" {
			return nfc.Message{}, fmt.Errorf("record %d: recordType is required", i)
		}
		records = append(records, nfc.Record{
			RecordType: nfc.RecordType(r.RecordType),
			MediaType:  r.MediaType,
			ID:         r.ID,
			Text:       r.Data,
			Raw:        r.Bytes,
			Encoding:   r.Encoding,
			Lang:       r.Lang,
		})
	}
	return nfc.Message{Records: records}, nil
}

// FromReadingPayload converts a client reading to an nfc.ReadingEvent,
// normalizing hex serial numbers.
func FromReadingPayload(data protocol.ReadingPayload) (nfc.ReadingEvent, error) {
	msg, err := FromMessagePayload(data.Message)
	if err != nil {
		return nfc.ReadingEvent{}, err
	}
	return nfc.ReadingEvent{
		SerialNumber: protocol.NormalizeSerial(data.SerialNumber),
		Message:      msg,
	}, nil
}

func toHostError(p *protocol.ErrorPayload) error {
	if p == nil {
		return nfc.NewHostError(nfc.HostErrNetwork, "remote client reported failure without details")
	}
	return nfc.NewHostError(p.Name, p.Message)
}
