package intercept

import (
	"reflect"
	"strings"
)

// Classifier decides whether a type is a protocol message and, if so, which
// direction it travels. The second result is false for types that are not
// messages at all; registration skips those silently.
type Classifier interface {
	Classify(t MessageType) (Direction, bool)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(t MessageType) (Direction, bool)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(t MessageType) (Direction, bool) { return f(t) }

// DeclaredClassifier returns a Classifier that recognizes types implementing
// Directed and reports the direction they declare. The method is called on
// the zero value of the type, so it must not depend on message contents.
func DeclaredClassifier() Classifier {
	return declared{}
}

type declared struct{}

func (declared) Classify(t MessageType) (Direction, bool) {
	if t.rt == nil || !t.rt.Implements(directedType) {
		return 0, false
	}
	zero := reflect.Zero(t.rt)
	if t.rt.Kind() == reflect.Pointer {
		zero = reflect.New(t.rt.Elem())
	}
	d, ok := zero.Interface().(Directed)
	if !ok {
		return 0, false
	}
	dir := d.Direction()
	if dir != Serverbound && dir != Clientbound {
		return 0, false
	}
	return dir, true
}

// PrefixClassifier returns a Classifier that recognizes every named struct
// type (or pointer to one) and treats it as clientbound when its name starts
// with prefix, serverbound otherwise. This mirrors protocol libraries that
// encode direction in type names, e.g. "ClientboundChatPacket".
//
// The rule is only as reliable as the naming convention; prefer
// DeclaredClassifier or ManifestClassifier for new protocols.
func PrefixClassifier(prefix string) Classifier {
	return prefixRule{prefix: prefix}
}

type prefixRule struct {
	prefix string
}

func (p prefixRule) Classify(t MessageType) (Direction, bool) {
	if t.rt == nil {
		return 0, false
	}
	rt := t.rt
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct || rt.Name() == "" {
		return 0, false
	}
	if p.prefix != "" && strings.HasPrefix(rt.Name(), p.prefix) {
		return Clientbound, true
	}
	return Serverbound, true
}

// ChainClassifier returns a Classifier that asks each classifier in order and
// uses the first that recognizes the type.
func ChainClassifier(cs ...Classifier) Classifier {
	return chain{cs: cs}
}

type chain struct {
	cs []Classifier
}

func (c chain) Classify(t MessageType) (Direction, bool) {
	for _, cl := range c.cs {
		if d, ok := cl.Classify(t); ok {
			return d, true
		}
	}
	return 0, false
}
