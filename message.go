package intercept

import (
	"reflect"
)

// MessageType identifies the concrete runtime type of an inbound message.
// It is the registry key: two messages share handlers only when their types
// are identical, so Login and *Login are distinct types.
//
// The zero MessageType describes a nil message and matches no handlers.
type MessageType struct {
	rt reflect.Type
}

// TypeOf returns the MessageType of msg.
func TypeOf(msg any) MessageType {
	return MessageType{rt: reflect.TypeOf(msg)}
}

// TypeFor returns the MessageType of T.
//
//	intercept.TypeFor[*LoginMessage]()
func TypeFor[T any]() MessageType {
	return MessageType{rt: reflect.TypeOf((*T)(nil)).Elem()}
}

// IsZero reports whether t describes no type.
func (t MessageType) IsZero() bool { return t.rt == nil }

// Reflect returns the underlying reflect.Type, or nil for the zero value.
func (t MessageType) Reflect() reflect.Type { return t.rt }

// Name returns the declared name of the type with pointer indirections
// removed, e.g. "LoginMessage" for *proto.LoginMessage. Unnamed types
// return their full string form.
func (t MessageType) Name() string {
	if t.rt == nil {
		return ""
	}
	rt := t.rt
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if n := rt.Name(); n != "" {
		return n
	}
	return rt.String()
}

// String returns the package-qualified type, e.g. "*proto.LoginMessage".
func (t MessageType) String() string {
	if t.rt == nil {
		return "<nil>"
	}
	return t.rt.String()
}

// Direction says which side of the connection a message type originates
// from.
type Direction uint8

const (
	// Serverbound messages originate from the remote peer and travel
	// through the inbound pipeline. Only these may be intercepted.
	Serverbound Direction = iota + 1

	// Clientbound messages originate locally.
	Clientbound
)

func (d Direction) String() string {
	switch d {
	case Serverbound:
		return "serverbound"
	case Clientbound:
		return "clientbound"
	default:
		return "unknown"
	}
}

// Directed is implemented by message types that declare their own
// direction. DeclaredClassifier consults it.
//
//	type LoginMessage struct{ User string }
//
//	func (LoginMessage) Direction() intercept.Direction { return intercept.Serverbound }
type Directed interface {
	Direction() Direction
}

var directedType = reflect.TypeOf((*Directed)(nil)).Elem()
