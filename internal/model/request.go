package model

import "fmt"

// RequestKind describes how a dependency is requested.
type RequestKind int

const (
	RequestInstance       RequestKind = iota // T
	RequestProvider                          // Provider<T>
	RequestLazy                              // Lazy<T>
	RequestProviderOfLazy                    // Provider<Lazy<T>>
	RequestProducer                          // Producer<T>
	RequestFuture                            // Future<T>
	RequestOptional                          // Optional<T>, absence is tolerated
)

var requestKindNames = map[RequestKind]string{
	RequestInstance:       "instance",
	RequestProvider:       "provider",
	RequestLazy:           "lazy",
	RequestProviderOfLazy: "provider_of_lazy",
	RequestProducer:       "producer",
	RequestFuture:         "future",
	RequestOptional:       "optional",
}

func (k RequestKind) String() string {
	if name, ok := requestKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("request_kind(%d)", int(k))
}

// ParseRequestKind maps a name produced by String back to its kind.
// The empty string is an instance request.
func ParseRequestKind(s string) (RequestKind, error) {
	if s == "" {
		return RequestInstance, nil
	}
	for kind, name := range requestKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown request kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k RequestKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RequestKind) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// BreaksCycle reports whether a request of this kind introduces an
// indirection that generated code can satisfy lazily.
func (k RequestKind) BreaksCycle() bool {
	switch k {
	case RequestProvider, RequestLazy, RequestProviderOfLazy, RequestProducer:
		return true
	}
	return false
}

// DependencyRequest is a key plus the way it is requested.
type DependencyRequest struct {
	Key     Key         `json:"key"`
	Kind    RequestKind `json:"kind,omitempty"`
	Element string      `json:"element,omitempty"` // requesting parameter or accessor method
}

// Request builds an instance request for key.
func Request(key Key, element string) DependencyRequest {
	return DependencyRequest{Key: key, Kind: RequestInstance, Element: element}
}

func (r DependencyRequest) String() string {
	if r.Kind == RequestInstance {
		return r.Key.String()
	}
	return fmt.Sprintf("%s<%s>", r.Kind, r.Key)
}

// EntryPoint is a public accessor on a component.
type EntryPoint struct {
	Method  string            `json:"method"`
	Request DependencyRequest `json:"request"`
}
