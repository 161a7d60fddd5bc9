package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of message exchanged between the
// supervisor and a worker process.
type MessageType string

// Supervisor → worker message types.
const (
	MsgStart      MessageType = "start"
	MsgStop       MessageType = "stop"
	MsgConfigSync MessageType = "config_sync"
	MsgAPICall    MessageType = "api_call"
)

// Worker → supervisor message types.
const (
	MsgStatusSync    MessageType = "status_sync"
	MsgLog           MessageType = "log"
	MsgError         MessageType = "error"
	MsgAccountKicked MessageType = "account_kicked"
	MsgAPIResponse   MessageType = "api_response"
)

// Message is the envelope written as one line of JSON on the worker channel.
// Exactly one payload pointer is set, matching Type. STOP carries none.
type Message struct {
	Type MessageType `json:"type"`

	Start       *StartPayload       `json:"start,omitempty"`
	ConfigSync  *ConfigSnapshot     `json:"config,omitempty"`
	APICall     *APICallPayload     `json:"api_call,omitempty"`
	StatusSync  *StatusSnapshot     `json:"status,omitempty"`
	Log         *LogPayload         `json:"log,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
	Kicked      *KickedPayload      `json:"kicked,omitempty"`
	APIResponse *APIResponsePayload `json:"api_response,omitempty"`
}

// StartPayload initializes a worker's game session.
type StartPayload struct {
	AccountID  string `json:"account_id"`
	Name       string `json:"name"`
	Credential string `json:"credential"`
	Platform   string `json:"platform"`
}

// APICallPayload is a correlated method invocation. ID is unique per worker.
type APICallPayload struct {
	ID     uint64          `json:"id"`
	Method Method          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// APIResponsePayload resolves the APICall with the same ID. A non-empty
// Error means the call failed and Result is ignored.
type APIResponsePayload struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// LogTimeLayout is the layout of LogPayload.Time.
const LogTimeLayout = time.RFC3339Nano

// LogPayload is one forwarded worker log line.
type LogPayload struct {
	Time   string  `json:"time"`
	Tag    string  `json:"tag"`
	Msg    string  `json:"msg"`
	IsWarn bool    `json:"is_warn"`
	Meta   LogMeta `json:"meta"`
}

// LogMeta carries the structured classification of a log line.
type LogMeta struct {
	Module string `json:"module,omitempty"`
	Event  string `json:"event,omitempty"`
	Result string `json:"result,omitempty"`
}

// ErrorPayload reports an error the worker could not attribute to a call.
type ErrorPayload struct {
	Message string `json:"message"`
}

// KickedPayload signals that the game server forcibly ended the session.
type KickedPayload struct {
	Reason string `json:"reason"`
}

// Encode marshals msg as a single newline-terminated JSON line.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	return append(data, '\n'), nil
}

// NewAPICall builds an API_CALL message, marshalling args when non-nil.
func NewAPICall(id uint64, method Method, args any) (Message, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s args: %w", method, err)
		}
		raw = data
	}
	return Message{
		Type:    MsgAPICall,
		APICall: &APICallPayload{ID: id, Method: method, Args: raw},
	}, nil
}
