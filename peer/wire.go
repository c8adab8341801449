// Package peer carries requests between the two parties of a channel.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

type Command string

const (
	CmdCreateChannel Command = "create_channel"
	CmdPay           Command = "pay"
	CmdIsReady       Command = "is_ready"
	CmdIsOpen        Command = "is_open"
)

// ErrTimeout means the request may or may not have been processed by the
// peer.
var ErrTimeout = errors.New("peer did not respond in time")

type Request struct {
	Command Command         `json:"command"`
	Params  json.RawMessage `json:"params"`
	Tag     string          `json:"tag"`
}

type Response struct {
	Tag       string          `json:"tag"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// RemoteError is a request the peer received and explicitly refused.
type RemoteError struct {
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("peer refused (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("peer refused: %s", e.Message)
}

func NewRequest(cmd Command, params interface{}) (*Request, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, xerrors.Errorf("marshaling %s params: %w", cmd, err)
	}
	return &Request{Command: cmd, Params: b, Tag: uuid.NewString()}, nil
}

func (r *Request) DecodeParams(out interface{}) error {
	if err := json.Unmarshal(r.Params, out); err != nil {
		return xerrors.Errorf("decoding %s params: %w", r.Command, err)
	}
	return nil
}

// Result returns the payload of a successful response or a *RemoteError.
func (r *Response) Result(out interface{}) error {
	if r.Error != "" {
		return &RemoteError{Message: r.Error, Code: r.ErrorCode}
	}
	if out == nil {
		return nil
	}
	if len(r.Response) == 0 {
		return xerrors.New("empty response from peer")
	}
	if err := json.Unmarshal(r.Response, out); err != nil {
		return xerrors.Errorf("decoding peer response: %w", err)
	}
	return nil
}

func OK(req *Request, v interface{}) *Response {
	b, err := json.Marshal(v)
	if err != nil {
		return Fail(req, err)
	}
	return &Response{Tag: req.Tag, Response: b}
}

// Fail turns err into a refusal. A *RemoteError keeps its code.
func Fail(req *Request, err error) *Response {
	resp := &Response{Tag: req.Tag, Error: err.Error()}
	var re *RemoteError
	if errors.As(err, &re) {
		resp.Error = re.Message
		resp.ErrorCode = re.Code
	}
	return resp
}

type CreateChannelParams struct {
	Address   types.Address `json:"address"`
	Timeout   int64         `json:"timeout"`
	Asset     types.Asset   `json:"asset"`
	Salt      string        `json:"salt"`
	AAVersion string        `json:"aa_version,omitempty"`
	URL       string        `json:"url,omitempty"`
}

type CreateChannelResponse struct {
	AddressA  types.Address `json:"address_a"`
	AddressB  types.Address `json:"address_b,omitempty"`
	AAAddress types.Address `json:"aa_address"`
	Version   string        `json:"version"`
}

type PayParams struct {
	SignedPackage json.RawMessage `json:"signed_package"`
	Message       json.RawMessage `json:"message,omitempty"`
}

type ChannelQuery struct {
	AAAddress types.Address `json:"aa_address"`
}
