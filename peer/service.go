package peer

import (
	"context"

	"github.com/jibuji/go-stream-rpc/message"
)

// MethodFunc serves one method: it consumes the raw request payload and
// returns the raw response payload. Returning a *protocol.Error selects the
// error code sent back; any other error is reported as an internal error.
type MethodFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Service is a named group of methods, typically a generated server wrapper.
// Methods is read once, when the service is registered.
type Service interface {
	Methods() map[string]MethodFunc
}

// Methods is a literal method table that satisfies Service.
type Methods map[string]MethodFunc

func (m Methods) Methods() map[string]MethodFunc { return m }

// methodTable is the dispatch table built for one registered service.
// Keys are normalized with message.NormalizeMethod.
type methodTable map[string]MethodFunc

func newMethodTable(svc Service) methodTable {
	src := svc.Methods()
	table := make(methodTable, len(src))
	for name, fn := range src {
		if fn == nil {
			continue
		}
		table[message.NormalizeMethod(name)] = fn
	}
	return table
}

func (t methodTable) lookup(method string) (MethodFunc, bool) {
	fn, ok := t[message.NormalizeMethod(method)]
	return fn, ok
}
