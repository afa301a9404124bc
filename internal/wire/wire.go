// Package wire defines the JSON frames exchanged between a room and the
// relay server, per the client/server message codes of the protocol.
package wire

import "encoding/json"

// Client->server message codes.
const (
	ClientUpdatePresence = 100
	ClientBroadcastEvent = 103
	ClientFetchStorage   = 200
	ClientUpdateStorage  = 201
)

// Server->client message codes.
const (
	ServerUpdatePresence     = 100
	ServerUserJoined         = 101
	ServerUserLeft           = 102
	ServerBroadcastEvent     = 103
	ServerRoomState          = 104
	ServerInitialStorage     = 200
	ServerUpdateStorage      = 201
)

// Envelope is the common shape of every frame: a numeric code plus a
// kind-specific payload. Frames are decoded in two passes: first the
// code, then the payload against the matching concrete type.
type Envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientUpdatePresenceData is code 100 client->server.
type ClientUpdatePresenceData struct {
	Data         map[string]any `json:"data"`
	TargetActor  *int           `json:"targetActor,omitempty"`
}

// ClientBroadcastEventData is code 103 client->server.
type ClientBroadcastEventData struct {
	Event any `json:"event"`
}

// ClientUpdateStorageData is code 201 client->server.
type ClientUpdateStorageData struct {
	Ops []json.RawMessage `json:"ops"`
}

// ServerUpdatePresenceData is code 100 server->client.
type ServerUpdatePresenceData struct {
	Actor int            `json:"actor"`
	Data  map[string]any `json:"data"`
}

// UserInfo describes a connected peer as carried in ROOM_STATE/USER_JOINED.
type UserInfo struct {
	Actor  int            `json:"actor"`
	Info   map[string]any `json:"info,omitempty"`
	Scopes []string       `json:"scopes,omitempty"`
}

// ServerUserJoinedData is code 101 server->client.
type ServerUserJoinedData = UserInfo

// ServerUserLeftData is code 102 server->client.
type ServerUserLeftData struct {
	Actor int `json:"actor"`
}

// ServerBroadcastEventData is code 103 server->client.
type ServerBroadcastEventData struct {
	Actor int `json:"actor"`
	Event any `json:"event"`
}

// ServerRoomStateData is code 104 server->client.
type ServerRoomStateData struct {
	Users []UserInfo `json:"users"`
	Actor int        `json:"actor"`
}

// StorageItem is a single (nodeId, serialized node) pair as carried in
// INITIAL_STORAGE_STATE.
type StorageItem [2]json.RawMessage

// ServerInitialStorageData is code 200 server->client.
type ServerInitialStorageData struct {
	Items []StorageItem `json:"items"`
}

// ServerUpdateStorageData is code 201 server->client.
type ServerUpdateStorageData struct {
	Ops []json.RawMessage `json:"ops"`
}

// Decode unmarshals either a single JSON object or a JSON array of
// objects into a slice of Envelopes, matching the batching rule of
// §6.2: "each frame a single JSON value, or a JSON array of values
// when the server batches."
func Decode(raw []byte) ([]Envelope, error) {
	trimmed := raw
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var envs []Envelope
		if err := json.Unmarshal(raw, &envs); err != nil {
			return nil, err
		}
		return envs, nil
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return []Envelope{env}, nil
}

// Encode marshals a single envelope as a standalone frame.
func Encode(code int, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Code: code, Data: payload})
}

// Build constructs an Envelope value (rather than a standalone frame)
// for callers that need to batch several envelopes into one JSON
// array frame — the coalescer's "three frames... emitted in order"
// rule (spec.md §4.2) is satisfied by one physical WebSocket message
// carrying an array when more than one is pending.
func Build(code int, data any) (Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Code: code, Data: payload}, nil
}

// EncodeBatch marshals envs as a single JSON object if there is
// exactly one, or a JSON array otherwise, matching §6.2's "each frame
// a single JSON value, or a JSON array of values when the server
// batches" both for what this client sends and what it must be able
// to parse back via Decode.
func EncodeBatch(envs []Envelope) ([]byte, error) {
	if len(envs) == 1 {
		return json.Marshal(envs[0])
	}
	return json.Marshal(envs)
}
