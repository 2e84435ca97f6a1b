package slp

import (
	jsoniter "github.com/json-iterator/go"
)

// json is configured compatible with encoding/json; used for the
// once-per-probe JSON decode on the hot path (see DESIGN.md).
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Description is the Minecraft status response's polymorphic "description"
// field: either a bare string, or an object with a "text" field and an
// "extra" list of parts that themselves have a "text" field. Per spec.md
// §9 it is represented as a tagged variant and normalized to a single MOTD
// string during enrichment (see internal/enrich).
type Description struct {
	Text  string
	Extra []Description
}

// UnmarshalJSON accepts either a JSON string or an object with "text"/
// "extra" fields.
func (d *Description) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		d.Text = asString
		d.Extra = nil
		return nil
	}

	var asObject struct {
		Text  string        `json:"text"`
		Extra []Description `json:"extra"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return err
	}
	d.Text = asObject.Text
	d.Extra = asObject.Extra
	return nil
}

// Flatten concatenates this description's text with all of its extra
// parts', depth-first, producing the raw (un-stripped) MOTD string.
func (d Description) Flatten() string {
	out := d.Text
	for _, part := range d.Extra {
		out += part.Flatten()
	}
	return out
}

// PlayerSample is one entry of players.sample.
type PlayerSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// RawStatus is the parsed status-response JSON, per spec.md §3.
type RawStatus struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Online int            `json:"online"`
		Max    int            `json:"max"`
		Sample []PlayerSample `json:"sample"`
	} `json:"players"`
	Description    Description `json:"description"`
	FaviconPresent bool        `json:"-"`
	Raw            []byte      `json:"-"`
}

// rawStatusWire mirrors RawStatus for decoding, capturing favicon
// presence without exposing the (often large, base64-encoded) value.
type rawStatusWire struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Online int            `json:"online"`
		Max    int            `json:"max"`
		Sample []PlayerSample `json:"sample"`
	} `json:"players"`
	Description Description `json:"description"`
	Favicon     *string     `json:"favicon"`
}

// Kind classifies a probe outcome per spec.md §3.
type Kind int

const (
	KindNoResponse Kind = iota
	KindMalformed
	KindServer
)

// Outcome is the wire-level classification of a single probe's bytes.
// Response-time measurement is owned by internal/prober, which wraps this
// with the elapsed duration and the probed address.
type Outcome struct {
	Kind   Kind
	Status RawStatus // only meaningful when Kind == KindServer
}
