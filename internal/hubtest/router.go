package hubtest

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goevery/ideaboard/internal/auth"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/rpc"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

var channelIdRegex = regexp.MustCompile(`^([\w-]+:?)*\w$`)

type HeartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type AuthResponse struct {
	Success bool `json:"success"`
}

type JoinResponse struct {
	SubscriptionId string    `json:"subscriptionId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type LeaveResponse struct {
	Success bool `json:"success"`
}

type Router struct {
	logger        *zap.Logger
	registry      *Registry
	authenticator *auth.Authenticator

	seq    atomic.Uint64
	mu     sync.Mutex
	pushed []rpc.Message
}

func NewRouter(logger *zap.Logger, registry *Registry, authenticator *auth.Authenticator) *Router {
	return &Router{
		logger:        logger,
		registry:      registry,
		authenticator: authenticator,
	}
}

func (r *Router) RouteRequest(ctx context.Context, connection *Connection, request rpc.Request) *rpc.Response {
	result, err := r.Handle(ctx, connection, request)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	if !request.ReplyExpected() {
		return nil
	}

	rawJson, err := json.Marshal(result)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	payload := json.RawMessage(rawJson)
	response := request.Reply(&payload)

	return &response
}

func (r *Router) Handle(ctx context.Context, connection *Connection, request rpc.Request) (any, error) {
	switch request.Method {
	case rpc.MethodHeartbeat:
		return HeartbeatResponse{Timestamp: time.Now()}, nil
	case rpc.MethodAuth:
		var params rpc.AuthParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}

		authentication, err := r.authenticator.Authenticate(params.Token)
		if err != nil {
			return nil, err
		}

		connection.SetSubject(authentication.Subject)

		return AuthResponse{Success: true}, nil
	case rpc.MethodJoin:
		var params rpc.ChannelParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}

		if err := validateChannelId(params.ChannelId); err != nil {
			return nil, err
		}

		if err := r.registry.Subscribe(params.ChannelId, connection.Id); err != nil {
			return nil, err
		}

		return JoinResponse{SubscriptionId: connection.Id, Timestamp: time.Now()}, nil
	case rpc.MethodLeave:
		var params rpc.ChannelParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}

		r.registry.Unsubscribe(params.ChannelId, connection.Id)

		return LeaveResponse{Success: true}, nil
	case rpc.MethodPush:
		var params struct {
			ChannelId string          `json:"channelId"`
			Event     string          `json:"event"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}

		if connection.Subject() == "" {
			return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
		}

		if err := validateChannelId(params.ChannelId); err != nil {
			return nil, err
		}

		message := r.newMessage(params.ChannelId, params.Event, params.Payload)

		r.mu.Lock()
		r.pushed = append(r.pushed, message)
		r.mu.Unlock()

		r.registry.Broadcast(message)

		return message, nil
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

func (r *Router) Pushed() []rpc.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]rpc.Message(nil), r.pushed...)
}

func (r *Router) newMessage(channelId string, event string, payload json.RawMessage) rpc.Message {
	return rpc.Message{
		Id:         gonanoid.Must(),
		Seq:        r.seq.Add(1),
		CreateTime: time.Now(),
		Channel:    channelId,
		Event:      event,
		Payload:    payload,
	}
}

func (r *Router) mapError(err error) rpc.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return rpc.Error{Code: string(handlerErr.Code), Message: handlerErr.Message}
	}

	r.logger.Error("error in rpc handler", zap.Error(err))

	return rpc.Error{Code: string(ierr.ErrorCodeInternal), Message: "internal error"}
}

func validateChannelId(channelId string) error {
	if !channelIdRegex.MatchString(channelId) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid channelId"))
	}

	return nil
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}
