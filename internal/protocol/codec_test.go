package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTextCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(EnvelopeText)
	require.NoError(t, err)
	return c
}

func newBinaryCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(EnvelopeBinary)
	require.NoError(t, err)
	return c
}

func TestNewCodec_RejectsUnknownEnvelope(t *testing.T) {
	_, err := NewCodec("msgpack")
	assert.Error(t, err)
}

func TestParse_InitPlayerConnection(t *testing.T) {
	m, err := Parse("(abc-123, InitPlayerConnection(abc-123, alice, alice@example.com))")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", m.Sender)
	assert.Equal(t, TagInitPlayerConnection, m.Tag)
	assert.Equal(t, []string{"abc-123", "alice", "alice@example.com"}, m.Fields)
}

func TestParse_TrimsFields(t *testing.T) {
	m, err := Parse("  (abc ,  InitPlayerConnection( abc ,  alice , a@b.c ))  ")
	require.NoError(t, err)
	assert.Equal(t, "abc", m.Sender)
	assert.Equal(t, []string{"abc", "alice", "a@b.c"}, m.Fields)
}

func TestParse_RequestFullMapSets(t *testing.T) {
	m, err := Parse("(p1, REQUEST_FULL_MAP_SETS)")
	require.NoError(t, err)
	assert.Equal(t, TagRequestFullMapSets, m.Tag)
	assert.Equal(t, "p1", m.Sender)
	assert.Empty(t, m.Fields)

	m, err = Parse("(p1, REQUEST_FULL_MAP_SETS())")
	require.NoError(t, err)
	assert.Equal(t, TagRequestFullMapSets, m.Tag)
}

func TestParse_HeartBeatPacket(t *testing.T) {
	m, err := Parse(`(PacketHeartBeat, ({"player_id":"p-1"}))`)
	require.NoError(t, err)
	assert.Equal(t, TagPacketHeartBeat, m.Tag)
	hb, err := m.HeartBeat()
	require.NoError(t, err)
	assert.Equal(t, "p-1", hb.PlayerID)
}

func TestParse_AllStatesPacket(t *testing.T) {
	in := AllStates{PlayerID: "p-1", StateGame: "InGame", StateTurn: "Active", StateLevel: "Hole3"}
	msg, err := PacketAllStates(in)
	require.NoError(t, err)
	text, err := Format(msg)
	require.NoError(t, err)

	m, err := Parse(text)
	require.NoError(t, err)
	out, err := m.AllStates()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParse_BareStrings(t *testing.T) {
	for _, tag := range []Tag{TagStateOnline, TagGetClientState} {
		m, err := Parse(string(tag))
		require.NoError(t, err)
		assert.Equal(t, tag, m.Tag)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]error{
		"":                                     ErrMalformed,
		"hello":                                ErrMalformed,
		"(no separator)":                       ErrMalformed,
		"(p1, Bogus(a, b))":                    ErrUnknownTag,
		"(p1, InitPlayerConnection(a, b))":     ErrArity,
		"(p1, InitPlayerConnection)":           ErrArity,
		"(p1, REQUEST_FULL_MAP_SETS(x))":       ErrArity,
		"(p1, 123(x))":                         ErrMalformed,
		"[(not-a-uuid, 2024-01-01T00:00:00Z)]": ErrMalformed,
		"[(":                                   ErrMalformed,
		`(PacketHeartBeat, ({"player_id"))`:    ErrMalformed,
	}
	for in, want := range cases {
		_, err := Parse(in)
		assert.ErrorIs(t, err, want, "input %q", in)
	}
}

func TestMessage_HeartBeatWrongTag(t *testing.T) {
	_, err := RunTrigger("p", "x").HeartBeat()
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestFormat_RunTriggerIsByteStable(t *testing.T) {
	text, err := Format(RunTrigger("p-9", "game_handler_game_start"))
	require.NoError(t, err)
	assert.Equal(t, "(p-9, RunTrigger(game_handler_game_start))", text)
}

func TestParse_QuotedFieldKeepsQuotes(t *testing.T) {
	m, err := Parse(`(p-9, RunTrigger("game_handler_game_start"))`)
	require.NoError(t, err)
	assert.Equal(t, TagRunTrigger, m.Tag)
	assert.Equal(t, []string{`"game_handler_game_start"`}, m.Fields)
}

func TestFormat_SyncExistingPlayerID(t *testing.T) {
	text, err := Format(SyncExistingPlayerID("client-y", "host-x"))
	require.NoError(t, err)
	assert.Equal(t, "(client-y, SyncExistingPlayerId(host-x))", text)
}

func TestFormat_RejectsWrongArity(t *testing.T) {
	_, err := Format(Message{Sender: "p", Tag: TagRunTrigger})
	assert.ErrorIs(t, err, ErrArity)
	_, err = Format(Message{Tag: "Nope"})
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestSummary_RoundTrip(t *testing.T) {
	stamps := []MapSetStamp{
		{ID: uuid.MustParse("0190c2a4-6a8e-7cc1-9c3f-2f1a2b3c4d5e"), LastUpdated: time.Date(2024, 6, 1, 12, 0, 0, 500, time.UTC)},
		{ID: uuid.MustParse("0190c2a4-6a8e-7cc1-9c3f-2f1a2b3c4d5f"), LastUpdated: time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)},
	}
	text, err := Format(Summary(stamps))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "[(0190c2a4-6a8e-7cc1-9c3f-2f1a2b3c4d5e, 2024-06-01T12:00:00.0000005Z), "))

	m, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, m.Summary, 2)
	assert.Equal(t, stamps[1].ID, m.Summary[1].ID)
	assert.True(t, stamps[0].LastUpdated.Equal(m.Summary[0].LastUpdated))

	empty, err := Format(Summary(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}

func TestFullMapSets_RoundTrip(t *testing.T) {
	path := "glb/map/level_1.glb"
	set := MapSet{
		ID:        uuid.MustParse("0190c2a4-6a8e-7cc1-9c3f-2f1a2b3c4d5e"),
		Name:      "Standard Maps: Front Nine",
		Created:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Updated:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		HoleRange: HoleRange{Start: 1, End: 9},
	}
	set.LevelPaths[0] = &path

	msg, err := FullMapSets("p1", []MapSet{set})
	require.NoError(t, err)
	text, err := Format(msg)
	require.NoError(t, err)

	m, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "p1", m.Sender)
	sets, err := m.MapSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, set.Name, sets[0].Name)
	require.NotNil(t, sets[0].LevelPaths[0])
	assert.Equal(t, path, *sets[0].LevelPaths[0])
	assert.Nil(t, sets[0].LevelPaths[17])

	again, err := Format(m)
	require.NoError(t, err)
	assert.Equal(t, text, again)
}

func TestCodec_BinaryEnvelope(t *testing.T) {
	c := newBinaryCodec(t)
	data, err := c.Encode(InitPlayerConnection("abc-123", "alice", "alice@example.com"))
	require.NoError(t, err)

	var inner string
	require.NoError(t, cbor.Unmarshal(data, &inner))
	assert.Equal(t, "(abc-123, InitPlayerConnection(abc-123, alice, alice@example.com))", inner)

	m, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TagInitPlayerConnection, m.Tag)
	assert.Equal(t, "alice@example.com", m.Fields[2])
}

func TestCodec_BinaryEnvelopeCarriesJSONPacket(t *testing.T) {
	c := newBinaryCodec(t)
	hb, err := PacketHeartBeat(HeartBeat{PlayerID: "p-7"})
	require.NoError(t, err)
	data, err := c.Encode(hb)
	require.NoError(t, err)

	m, err := c.Decode(data)
	require.NoError(t, err)
	got, err := m.HeartBeat()
	require.NoError(t, err)
	assert.Equal(t, "p-7", got.PlayerID)
}

func TestCodec_DecodesEitherEnvelope(t *testing.T) {
	text := newTextCodec(t)
	bin := newBinaryCodec(t)
	msgs := []Message{
		InitPlayerConnection("a", "b", "c@d"),
		Status(TagStateOnline),
		Status(TagGetClientState),
		RequestFullMapSets("p1"),
		Summary(nil),
	}
	for _, msg := range msgs {
		for _, enc := range []*Codec{text, bin} {
			data, err := enc.Encode(msg)
			require.NoError(t, err)
			for _, dec := range []*Codec{text, bin} {
				got, err := dec.Decode(data)
				require.NoError(t, err, "tag %s envelope %s", msg.Tag, enc.Envelope())
				assert.Equal(t, msg.Tag, got.Tag)
			}
		}
	}
}

func TestCodec_DecodeInvalidUTF8(t *testing.T) {
	c := newTextCodec(t)
	_, err := c.Decode([]byte{0xff, 0xfe, 0x28})
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestCodec_DecodeEnvelopeWithGarbageText(t *testing.T) {
	c := newBinaryCodec(t)
	data, err := cbor.Marshal("not a message")
	require.NoError(t, err)
	_, err = c.Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

// fieldGen draws a field that survives trimming and contains no separator.
func fieldGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Za-z0-9@._\-]([A-Za-z0-9@._\- ]{0,20}[A-Za-z0-9@._\-])?`)
}

// Property: Format(Parse(s)) == s for every canonical message of every tag.
func TestProperty_FormatParseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sender := rapid.StringMatching(`[a-z0-9\-]{1,36}`).Draw(t, "sender")
		var msg Message
		switch rapid.IntRange(0, 8).Draw(t, "kind") {
		case 0:
			msg = InitPlayerConnection(sender, fieldGen().Draw(t, "username"), fieldGen().Draw(t, "email"))
		case 1:
			msg = RunTrigger(sender, fieldGen().Draw(t, "trigger"))
		case 2:
			msg = SyncExistingPlayerID(sender, fieldGen().Draw(t, "host"))
		case 3:
			msg = RequestFullMapSets(sender)
		case 4:
			var err error
			msg, err = PacketHeartBeat(HeartBeat{PlayerID: rapid.String().Draw(t, "player")})
			if err != nil {
				t.Fatal(err)
			}
		case 5:
			var err error
			msg, err = PacketAllStates(AllStates{
				PlayerID:  sender,
				StateGame: rapid.String().Draw(t, "state_game"),
				StateMenu: rapid.String().Draw(t, "state_menu"),
			})
			if err != nil {
				t.Fatal(err)
			}
		case 6:
			msg = Status(rapid.SampledFrom([]Tag{TagStateOnline, TagGetClientState}).Draw(t, "status"))
		case 7:
			n := rapid.IntRange(0, 4).Draw(t, "stamps")
			stamps := make([]MapSetStamp, n)
			for i := range stamps {
				stamps[i] = MapSetStamp{
					ID:          uuid.New(),
					LastUpdated: time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "sec"), rapid.Int64Range(0, 999_999_999).Draw(t, "nsec")).UTC(),
				}
			}
			msg = Summary(stamps)
		default:
			var err error
			msg, err = FullMapSets(sender, []MapSet{{ID: uuid.New(), Name: fieldGen().Draw(t, "name")}})
			if err != nil {
				t.Fatal(err)
			}
		}

		text, err := Format(msg)
		if err != nil {
			t.Fatalf("Format(%+v): %v", msg, err)
		}
		parsed, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", text, err)
		}
		again, err := Format(parsed)
		if err != nil {
			t.Fatalf("re-Format(%q): %v", text, err)
		}
		if again != text {
			t.Fatalf("round trip changed text:\n got %q\nwant %q", again, text)
		}
	})
}

// Property: Decode never panics on arbitrary input.
func TestProperty_DecodeNeverPanics(t *testing.T) {
	c, err := NewCodec(EnvelopeBinary)
	require.NoError(t, err)
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		_, _ = c.Decode(data)
	})
}
