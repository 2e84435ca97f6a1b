package slp

import "bytes"

// ParseResponse implements the response-parse algorithm of spec.md §4.2:
// try the strict VarInt-framed path first (packet length, packet id, JSON
// length, JSON bytes); on any failure fall back to scanning the buffer for
// the first '{' and last '}' and parsing that slice. An empty buffer is
// NoResponse rather than Malformed.
func ParseResponse(buf []byte) Outcome {
	if len(buf) == 0 {
		return Outcome{Kind: KindNoResponse}
	}

	if status, ok := parseStrict(buf); ok {
		status.Raw = buf
		return Outcome{Kind: KindServer, Status: status}
	}

	if status, ok := parseFallback(buf); ok {
		status.Raw = buf
		return Outcome{Kind: KindServer, Status: status}
	}

	return Outcome{Kind: KindMalformed}
}

// parseStrict implements steps 1-4: packet length, packet id, JSON length,
// JSON bytes.
func parseStrict(buf []byte) (RawStatus, bool) {
	offset := 0

	_, n, err := ReadVarInt(buf[offset:]) // packet length
	if err != nil {
		return RawStatus{}, false
	}
	offset += n

	_, n, err = ReadVarInt(buf[offset:]) // packet id
	if err != nil {
		return RawStatus{}, false
	}
	offset += n

	jsonLen, n, err := ReadVarInt(buf[offset:])
	if err != nil {
		return RawStatus{}, false
	}
	offset += n

	if jsonLen < 0 || offset+int(jsonLen) > len(buf) {
		return RawStatus{}, false
	}
	payload := buf[offset : offset+int(jsonLen)]

	return decodeStatus(payload)
}

// parseFallback implements step 5: locate the first '{' and last '}' in
// the buffer (decoded as UTF-8, i.e. simply as bytes here since Go strings
// are already byte sequences) and parse that slice inclusively.
func parseFallback(buf []byte) (RawStatus, bool) {
	start := bytes.IndexByte(buf, '{')
	end := bytes.LastIndexByte(buf, '}')
	if start < 0 || end < 0 || end < start {
		return RawStatus{}, false
	}
	return decodeStatus(buf[start : end+1])
}

func decodeStatus(payload []byte) (RawStatus, bool) {
	var wire rawStatusWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return RawStatus{}, false
	}
	status := RawStatus{
		Version:        wire.Version,
		Players:        wire.Players,
		Description:    wire.Description,
		FaviconPresent: wire.Favicon != nil && *wire.Favicon != "",
	}
	return status, true
}
