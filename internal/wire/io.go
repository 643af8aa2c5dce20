package wire

import "io"

// ReadPacket reads exactly one framed packet (header + payload) from r,
// validating magic, length, and CRC. It never reads past one packet's
// bytes, so callers that wrap r with a read-deadline transport get a
// cleanly bounded read, keeping the receive worker's blocking waits bounded.
func ReadPacket(r io.Reader) (Header, []byte, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return Header{}, nil, err
	}
	h, err := ParseHeader(hdrBuf)
	if err != nil {
		return h, nil, err
	}
	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return h, nil, err
		}
	}
	if err := ValidatePayload(h, payload); err != nil {
		return h, payload, err
	}
	return h, payload, nil
}

// WritePacket frames and writes one packet to w.
func WritePacket(w io.Writer, typ Type, payload []byte, senderID uint32) error {
	_, err := w.Write(EncodePacket(typ, payload, senderID))
	return err
}
