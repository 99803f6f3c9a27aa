package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Separator joins tuple elements and command fields on the wire.
const Separator = ", "

var (
	packetPattern  = regexp.MustCompile(`^\(([^,]+),\s*\((.*)\)\)$`)
	commandPattern = regexp.MustCompile(`^([A-Za-z_:]+)(?:\((.*)\))?$`)
	stampPattern   = regexp.MustCompile(`\(([^,()]+),\s*([^,()]+)\)`)
)

// Envelope selects how text is framed on the transport.
type Envelope string

const (
	// EnvelopeText sends the tuple text as UTF-8 bytes.
	EnvelopeText Envelope = "text"
	// EnvelopeBinary sends the tuple text as a single CBOR text string.
	EnvelopeBinary Envelope = "binary"
)

// Valid reports whether e is a known envelope.
func (e Envelope) Valid() bool {
	return e == EnvelopeText || e == EnvelopeBinary
}

// Codec encodes messages in one envelope and decodes either envelope.
type Codec struct {
	envelope Envelope
	encMode  cbor.EncMode
	decMode  cbor.DecMode
}

// NewCodec returns a Codec that encodes with envelope.
//
// Precondition: envelope must be EnvelopeText or EnvelopeBinary.
func NewCodec(envelope Envelope) (*Codec, error) {
	if !envelope.Valid() {
		return nil, fmt.Errorf("unknown envelope %q", envelope)
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("building cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{UTF8: cbor.UTF8RejectInvalid}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("building cbor decoder: %w", err)
	}
	return &Codec{envelope: envelope, encMode: enc, decMode: dec}, nil
}

// Envelope returns the envelope used by Encode.
func (c *Codec) Envelope() Envelope {
	return c.envelope
}

// Encode formats m and wraps it in the codec's envelope.
func (c *Codec) Encode(m Message) ([]byte, error) {
	text, err := Format(m)
	if err != nil {
		return nil, err
	}
	if c.envelope == EnvelopeText {
		return []byte(text), nil
	}
	data, err := c.encMode.Marshal(text)
	if err != nil {
		return nil, fmt.Errorf("wrapping %s in cbor: %w", m.Tag, err)
	}
	return data, nil
}

// Decode is the single entry point for inbound bytes. A CBOR text-string envelope is
// tried first; when the bytes are not an envelope they are read as plain UTF-8 text.
//
// Postcondition: never panics; returns a Message or one of the package sentinel errors.
func (c *Codec) Decode(data []byte) (Message, error) {
	if text, ok := c.unwrap(data); ok {
		return Parse(text)
	}
	if !utf8.Valid(data) {
		return Message{}, ErrInvalidUTF8
	}
	return Parse(string(data))
}

func (c *Codec) unwrap(data []byte) (string, bool) {
	var text string
	if err := c.decMode.Unmarshal(data, &text); err != nil {
		return "", false
	}
	return text, true
}

// Parse decodes the tuple text of a single message.
func Parse(text string) (Message, error) {
	text = strings.TrimSpace(text)
	switch Tag(text) {
	case TagStateOnline, TagGetClientState:
		return Status(Tag(text)), nil
	}
	if strings.HasPrefix(text, "[") {
		return parseSummary(text)
	}
	if m := packetPattern.FindStringSubmatch(text); m != nil {
		tag := Tag(strings.TrimSpace(m[1]))
		if form, ok := FormOf(tag); ok && form == FormPacket {
			payload := strings.TrimSpace(m[2])
			if !json.Valid([]byte(payload)) {
				return Message{}, fmt.Errorf("%w: %s payload is not json", ErrMalformed, tag)
			}
			return Message{Tag: tag, Fields: []string{payload}}, nil
		}
	}
	return parseCommand(text)
}

func parseCommand(text string) (Message, error) {
	if len(text) < 2 || text[0] != '(' || text[len(text)-1] != ')' {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	inner := text[1 : len(text)-1]
	sender, payload, ok := strings.Cut(inner, Separator)
	if !ok {
		return Message{}, fmt.Errorf("%w: missing payload in %q", ErrMalformed, text)
	}
	payload = strings.TrimSpace(payload)
	idx := commandPattern.FindStringSubmatchIndex(payload)
	if idx == nil {
		return Message{}, fmt.Errorf("%w: bad command %q", ErrMalformed, payload)
	}
	tag := Tag(payload[idx[2]:idx[3]])
	form, known := FormOf(tag)
	if !known || form != FormCommand {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	arity, _ := Arity(tag)

	m := Message{Sender: strings.TrimSpace(sender), Tag: tag}
	hasList := idx[4] >= 0
	switch {
	case arity == 0:
		if hasList && strings.TrimSpace(payload[idx[4]:idx[5]]) != "" {
			return Message{}, fmt.Errorf("%w: %s takes no fields", ErrArity, tag)
		}
		return m, nil
	case !hasList:
		return Message{}, fmt.Errorf("%w: %s wants %d fields, got none", ErrArity, tag, arity)
	}

	parts := strings.SplitN(payload[idx[4]:idx[5]], Separator, arity)
	if len(parts) != arity {
		return Message{}, fmt.Errorf("%w: %s wants %d fields, got %d", ErrArity, tag, arity, len(parts))
	}
	m.Fields = make([]string, len(parts))
	for i, p := range parts {
		m.Fields[i] = strings.TrimSpace(p)
	}
	return m, nil
}

func parseSummary(text string) (Message, error) {
	if !strings.HasSuffix(text, "]") {
		return Message{}, fmt.Errorf("%w: unterminated summary", ErrMalformed)
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return Summary([]MapSetStamp{}), nil
	}
	matches := stampPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return Message{}, fmt.Errorf("%w: summary has no entries", ErrMalformed)
	}
	stamps := make([]MapSetStamp, 0, len(matches))
	for _, m := range matches {
		id, err := uuid.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			return Message{}, fmt.Errorf("%w: summary id %q: %v", ErrMalformed, m[1], err)
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(m[2]))
		if err != nil {
			return Message{}, fmt.Errorf("%w: summary timestamp %q: %v", ErrMalformed, m[2], err)
		}
		stamps = append(stamps, MapSetStamp{ID: id, LastUpdated: ts})
	}
	return Summary(stamps), nil
}

// Format renders m as canonical tuple text.
func Format(m Message) (string, error) {
	form, ok := FormOf(m.Tag)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTag, m.Tag)
	}
	switch form {
	case FormBare:
		return string(m.Tag), nil
	case FormSummary:
		return formatSummary(m.Summary), nil
	}

	arity, _ := Arity(m.Tag)
	if len(m.Fields) != arity {
		return "", fmt.Errorf("%w: %s wants %d fields, got %d", ErrArity, m.Tag, arity, len(m.Fields))
	}
	if form == FormPacket {
		return "(" + string(m.Tag) + Separator + "(" + m.Fields[0] + "))", nil
	}

	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(m.Sender)
	b.WriteString(Separator)
	b.WriteString(string(m.Tag))
	if arity > 0 {
		b.WriteByte('(')
		b.WriteString(strings.Join(m.Fields, Separator))
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String(), nil
}

func formatSummary(stamps []MapSetStamp) string {
	parts := make([]string, len(stamps))
	for i, s := range stamps {
		parts[i] = "(" + s.ID.String() + Separator + s.LastUpdated.UTC().Format(time.RFC3339Nano) + ")"
	}
	return "[" + strings.Join(parts, Separator) + "]"
}
