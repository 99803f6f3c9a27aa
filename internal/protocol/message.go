// Package protocol implements the host wire protocol: tagged tuple text, an optional
// CBOR envelope around that text, and JSON sub-payloads for structured packets.
//
// Fields are written bare: RunTrigger(name), SyncExistingPlayerId(id). Earlier clients
// quoted them, as in RunTrigger("name"), and the quotes are not stripped on decode. This
// is a known interop difference; a peer speaking the quoted form sees the quotes as part
// of the field value.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tag identifies a protocol message.
type Tag string

const (
	TagInitPlayerConnection Tag = "InitPlayerConnection"
	TagPacketAllStates      Tag = "PacketAllStates"
	TagPacketHeartBeat      Tag = "PacketHeartBeat"
	TagRequestFullMapSets   Tag = "REQUEST_FULL_MAP_SETS"
	TagRunTrigger           Tag = "RunTrigger"
	TagSyncExistingPlayerID Tag = "SyncExistingPlayerId"
	TagFullMapSets          Tag = "FullMapSets"

	// TagStateOnline is sent as a bare string after the host receives traffic.
	TagStateOnline Tag = "StateGameConnection::Online"
	// TagGetClientState is sent as a bare string to ask every client for its state.
	TagGetClientState Tag = "network_get_client_state_game"
	// TagMapSetSummary has no text form of its own; the summary is a bracketed list.
	TagMapSetSummary Tag = "MapSetSummary"
)

// Form is the textual shape a tag is carried in.
type Form int

const (
	// FormCommand is "(sender, Tag(f1, f2, ...))".
	FormCommand Form = iota
	// FormPacket is "(Tag, (json))".
	FormPacket
	// FormBare is the tag string itself.
	FormBare
	// FormSummary is "[(id, updated), ...]".
	FormSummary
)

type tagSpec struct {
	form  Form
	arity int
}

var tags = map[Tag]tagSpec{
	TagInitPlayerConnection: {form: FormCommand, arity: 3},
	TagRunTrigger:           {form: FormCommand, arity: 1},
	TagSyncExistingPlayerID: {form: FormCommand, arity: 1},
	TagRequestFullMapSets:   {form: FormCommand, arity: 0},
	TagFullMapSets:          {form: FormCommand, arity: 1},
	TagPacketAllStates:      {form: FormPacket, arity: 1},
	TagPacketHeartBeat:      {form: FormPacket, arity: 1},
	TagStateOnline:          {form: FormBare},
	TagGetClientState:       {form: FormBare},
	TagMapSetSummary:        {form: FormSummary},
}

// Arity returns the field count of a command or packet tag.
func Arity(t Tag) (int, bool) {
	s, ok := tags[t]
	return s.arity, ok
}

// FormOf returns the textual form of t.
func FormOf(t Tag) (Form, bool) {
	s, ok := tags[t]
	return s.form, ok
}

var (
	// ErrMalformed is returned when text matches none of the known shapes.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownTag is returned for a well-shaped message with an unrecognised tag.
	ErrUnknownTag = errors.New("protocol: unknown tag")
	// ErrArity is returned when a command carries the wrong number of fields.
	ErrArity = errors.New("protocol: wrong field count")
	// ErrInvalidUTF8 is returned when neither the envelope nor the raw bytes are UTF-8 text.
	ErrInvalidUTF8 = errors.New("protocol: invalid utf-8")
)

// Message is a decoded protocol message.
//
// Fields holds the command fields in wire order. For packet tags Fields[0] is the raw
// JSON payload so that re-encoding reproduces the original text.
type Message struct {
	Sender  string
	Tag     Tag
	Fields  []string
	Summary []MapSetStamp
}

// MapSetStamp is one entry of the map-set summary broadcast.
type MapSetStamp struct {
	ID          uuid.UUID
	LastUpdated time.Time
}

// HeartBeat is the JSON payload of PacketHeartBeat.
type HeartBeat struct {
	PlayerID string `json:"player_id"`
}

// AllStates is the JSON payload of PacketAllStates.
type AllStates struct {
	PlayerID            string `json:"player_id"`
	StateGame           string `json:"state_game"`
	StateCamOrbitEntity string `json:"state_cam_orbit_entity"`
	StateGamePlayStyle  string `json:"state_game_play_style"`
	StateLevel          string `json:"state_level"`
	StateMapSet         string `json:"state_map_set"`
	StateMenu           string `json:"state_menu"`
	StateTurn           string `json:"state_turn"`
}

// HoleRange is the inclusive hole interval a map set covers.
type HoleRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// LevelCount is the number of level slots in a map set.
const LevelCount = 18

// MapSet is the wire and storage shape of a map-set catalog entry.
type MapSet struct {
	ID         uuid.UUID           `json:"id"`
	Name       string              `json:"name"`
	Created    time.Time           `json:"created"`
	Updated    time.Time           `json:"updated"`
	HoleRange  HoleRange           `json:"hole_range"`
	LevelPaths [LevelCount]*string `json:"level_paths"`
}

// InitPlayerConnection builds the client init command.
func InitPlayerConnection(id, username, email string) Message {
	return Message{Sender: id, Tag: TagInitPlayerConnection, Fields: []string{id, username, email}}
}

// RunTrigger builds the trigger broadcast addressed to playerID.
func RunTrigger(playerID, name string) Message {
	return Message{Sender: playerID, Tag: TagRunTrigger, Fields: []string{name}}
}

// SyncExistingPlayerID tells the client holding clientID to adopt hostID.
func SyncExistingPlayerID(clientID, hostID string) Message {
	return Message{Sender: clientID, Tag: TagSyncExistingPlayerID, Fields: []string{hostID}}
}

// RequestFullMapSets builds the client request for the full map-set catalog.
func RequestFullMapSets(playerID string) Message {
	return Message{Sender: playerID, Tag: TagRequestFullMapSets}
}

// FullMapSets builds the reply carrying the whole catalog as a JSON array.
func FullMapSets(playerID string, sets []MapSet) (Message, error) {
	if sets == nil {
		sets = []MapSet{}
	}
	raw, err := json.Marshal(sets)
	if err != nil {
		return Message{}, fmt.Errorf("encoding map sets: %w", err)
	}
	return Message{Sender: playerID, Tag: TagFullMapSets, Fields: []string{string(raw)}}, nil
}

// Status builds a bare-string message.
func Status(t Tag) Message {
	return Message{Tag: t}
}

// Summary builds the map-set summary broadcast.
func Summary(stamps []MapSetStamp) Message {
	return Message{Tag: TagMapSetSummary, Summary: stamps}
}

// PacketHeartBeat builds a heartbeat packet.
func PacketHeartBeat(hb HeartBeat) (Message, error) {
	return packet(TagPacketHeartBeat, hb)
}

// PacketAllStates builds a full client-state packet.
func PacketAllStates(s AllStates) (Message, error) {
	return packet(TagPacketAllStates, s)
}

func packet(t Tag, v any) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Message{Tag: t, Fields: []string{string(raw)}}, nil
}

// HeartBeat decodes the heartbeat payload.
func (m Message) HeartBeat() (HeartBeat, error) {
	var hb HeartBeat
	err := m.decodeJSON(TagPacketHeartBeat, &hb)
	return hb, err
}

// AllStates decodes the client-state payload.
func (m Message) AllStates() (AllStates, error) {
	var s AllStates
	err := m.decodeJSON(TagPacketAllStates, &s)
	return s, err
}

// MapSets decodes the FullMapSets payload.
func (m Message) MapSets() ([]MapSet, error) {
	var sets []MapSet
	err := m.decodeJSON(TagFullMapSets, &sets)
	return sets, err
}

func (m Message) decodeJSON(want Tag, v any) error {
	if m.Tag != want {
		return fmt.Errorf("%w: have %s, want %s", ErrUnknownTag, m.Tag, want)
	}
	if len(m.Fields) != 1 {
		return fmt.Errorf("%w: %s carries %d fields", ErrArity, m.Tag, len(m.Fields))
	}
	if err := json.Unmarshal([]byte(m.Fields[0]), v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Tag, err)
	}
	return nil
}
