package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	Locale          string `json:"locale,omitempty"` // Accept-Language style list
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	Locale          string   `json:"locale"`
	Locales         []string `json:"locales,omitempty"`
	ClaimRule       string   `json:"claim_rule"`
	ConfigDigest    string   `json:"config_digest,omitempty"`
}

// Chunk is an [x, z] chunk coordinate.
type Chunk [2]int32

// CHECK (client -> server)
type CheckMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RequestID       string  `json:"request_id"`
	World           string  `json:"world"`
	Existing        []Chunk `json:"existing"`
	Candidates      []Chunk `json:"candidates"`
	Incremental     bool    `json:"incremental,omitempty"`
}

// VERDICT (server -> client)
type VerdictMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	RequestID       string         `json:"request_id"`
	World           string         `json:"world"`
	WorldAllowed    bool           `json:"world_allowed"`
	Code            string         `json:"code,omitempty"`
	Message         string         `json:"message,omitempty"`
	ClaimRule       string         `json:"claim_rule"`
	Results         []ChunkVerdict `json:"results"`
}

type ChunkVerdict struct {
	Chunk   Chunk  `json:"chunk"`
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(requestID, code, msg string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		RequestID:       requestID,
		Code:            code,
		Message:         msg,
	}
}
