// Package service turns a plain Go receiver into a peer.Service.
//
// Exported methods of either shape are served:
//
//	func (t *T) Method(ctx context.Context, args *Args) (*Reply, error)
//	func (t *T) Method(args *Args, reply *Reply) error
//
// Reflection only runs in New; the resulting method table is fixed.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jibuji/go-stream-rpc/codec"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/protocol"
)

// ErrNoMethods is returned when a receiver has no method of a servable shape.
var ErrNoMethods = errors.New("service: receiver has no suitable methods")

type methodType struct {
	method      reflect.Method
	ArgType     reflect.Type
	ReplyType   reflect.Type
	withContext bool
}

// Service is a receiver plus its dispatch table.
type Service struct {
	name    string
	rcvr    reflect.Value
	typ     reflect.Type
	codec   codec.Codec
	methods map[string]*methodType
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// New creates a service named after the receiver's type, e.g. *Adder → "Adder".
// A nil codec means JSON.
func New(rcvr any, cdc codec.Codec) (*Service, error) {
	return NewWithName("", rcvr, cdc)
}

// NewWithName is New with an explicit service name.
func NewWithName(name string, rcvr any, cdc codec.Codec) (*Service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("service: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("service: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	if cdc == nil {
		cdc = &codec.JSONCodec{}
	}

	s := &Service{
		name:    name,
		rcvr:    reflect.ValueOf(rcvr),
		typ:     typ,
		codec:   cdc,
		methods: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.methods) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMethods, typ)
	}
	return s, nil
}

// registerMethods keeps the exported methods with a servable signature.
func (s *Service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type

		switch {
		// (receiver, ctx, *Args) (*Reply, error)
		case mt.NumIn() == 3 && mt.NumOut() == 2 &&
			mt.In(1) == contextType && mt.In(2).Kind() == reflect.Ptr &&
			mt.Out(0).Kind() == reflect.Ptr && mt.Out(1) == errorType:
			s.methods[method.Name] = &methodType{
				method:      method,
				ArgType:     mt.In(2).Elem(),
				ReplyType:   mt.Out(0).Elem(),
				withContext: true,
			}

		// (receiver, *Args, *Reply) error
		case mt.NumIn() == 3 && mt.NumOut() == 1 && mt.Out(0) == errorType &&
			mt.In(1).Kind() == reflect.Ptr && mt.In(2).Kind() == reflect.Ptr:
			s.methods[method.Name] = &methodType{
				method:    method,
				ArgType:   mt.In(1).Elem(),
				ReplyType: mt.In(2).Elem(),
			}
		}
	}
}

func (s *Service) Name() string { return s.name }

// Methods implements peer.Service.
func (s *Service) Methods() map[string]peer.MethodFunc {
	table := make(map[string]peer.MethodFunc, len(s.methods))
	for name, m := range s.methods {
		table[name] = s.handler(s.name+"."+name, m)
	}
	return table
}

// handler adapts one reflected method to the raw payload boundary.
// Payloads that do not decode are reported as invalid-message-format.
func (s *Service) handler(fullName string, m *methodType) peer.MethodFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		argv := reflect.New(m.ArgType)
		if err := s.codec.Decode(payload, argv.Interface()); err != nil {
			return nil, protocol.Errorf(protocol.CodeInvalidMessageFormat, "decode %s args: %v", fullName, err)
		}

		reply, err := s.call(ctx, m, argv)
		if err != nil {
			return nil, err
		}

		data, err := s.codec.Encode(reply)
		if err != nil {
			return nil, fmt.Errorf("encode %s reply: %w", fullName, err)
		}
		return data, nil
	}
}

// call invokes the method through reflection and returns the reply value.
func (s *Service) call(ctx context.Context, m *methodType, argv reflect.Value) (any, error) {
	if m.withContext {
		results := m.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv})
		if errv := results[1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		if results[0].IsNil() {
			return reflect.New(m.ReplyType).Interface(), nil
		}
		return results[0].Interface(), nil
	}

	replyv := reflect.New(m.ReplyType)
	results := m.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	if !results[0].IsNil() {
		return nil, results[0].Interface().(error)
	}
	return replyv.Interface(), nil
}
