package rpc

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	MethodHeartbeat = "heartbeat"
	MethodAuth      = "auth"
	MethodJoin      = "join"
	MethodLeave     = "leave"
	MethodPush      = "push"

	// NotificationBroadcast is the only method the hub sends unprompted.
	NotificationBroadcast = "broadcast"
)

type Request struct {
	Id     int              `json:"id,omitempty"`
	Method string           `json:"method"`
	Params *json.RawMessage `json:"params,omitempty"`
}

func NewRequest(id int, method string, params any) (Request, error) {
	request := Request{
		Id:     id,
		Method: method,
	}

	if params == nil {
		return request, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, err
	}

	payload := json.RawMessage(raw)
	request.Params = &payload

	return request, nil
}

func NewNotification(method string, params *json.RawMessage) Request {
	return Request{
		Method: method,
		Params: params,
	}
}

func (r Request) ReplyExpected() bool {
	return r.Id != 0
}

func (r Request) Reply(result *json.RawMessage) Response {
	return Response{
		RequestId: r.Id,
		Result:    result,
	}
}

func (r Request) ReplyWithError(err Error) Response {
	return Response{
		RequestId: r.Id,
		Error:     &err,
	}
}

type Response struct {
	RequestId int              `json:"requestId,omitempty"`
	Result    *json.RawMessage `json:"result,omitempty"`
	Error     *Error           `json:"error,omitempty"`
}

func (r Response) IsFailure() bool {
	return r.Error != nil
}

// Frame is any inbound hub frame. Replies carry RequestId, notifications carry Method.
type Frame struct {
	Request
	Response
}

func (f Frame) IsReply() bool {
	return f.RequestId != 0
}

type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// Message is the payload of a broadcast notification.
type Message struct {
	Id         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	CreateTime time.Time       `json:"createTime"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("message has no payload")
	}

	return json.Unmarshal(m.Payload, v)
}

type AuthParams struct {
	Token string `json:"token"`
}

type ChannelParams struct {
	ChannelId string `json:"channelId"`
}

type PushParams struct {
	ChannelId string `json:"channelId"`
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
}
