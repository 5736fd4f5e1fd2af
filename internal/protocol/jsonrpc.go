package protocol

import "encoding/json"

const Version = "2.0"

// Request represents an outgoing JSON-RPC request line.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification is a request without an id; no reply is expected.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is the decoded form of any incoming line: a response (has an id)
// or a server-initiated notification (has a method, no id).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether the message is a server-initiated
// notification rather than a reply to one of our requests.
func (m *Message) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// IsResponseTo reports whether the message is a response correlated to id.
func (m *Message) IsResponseTo(id int64) bool {
	return m.ID != nil && *m.ID == id && m.Method == ""
}

func NewRequest(id int64, method string, params any) Request {
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

// LogParams is the params shape of a notifications/message line, which tool
// servers use for out-of-band log output.
type LogParams struct {
	Level string          `json:"level"`
	Data  json.RawMessage `json:"data"`
}
