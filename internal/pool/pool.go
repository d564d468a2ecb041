// Package pool provides object pooling for Message and Response values to
// reduce allocations on the hot send/receive path.
package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

var (
	messagePool = sync.Pool{
		New: func() any {
			return new(types.Message)
		},
	}

	responsePool = sync.Pool{
		New: func() any {
			return new(types.Response)
		},
	}
)

// GetMessage gets a Message from the pool.
func GetMessage() *types.Message {
	v := messagePool.Get()
	if msg, ok := v.(*types.Message); ok {
		return msg
	}
	return new(types.Message)
}

// PutMessage resets msg and returns it to the pool.
func PutMessage(msg *types.Message) {
	msg.Reset()
	messagePool.Put(msg)
}

// NewMessage builds a Message the same way types.NewMessage does — fresh
// client-generated ID, current timestamp — but draws the value from the
// pool instead of allocating. Callers whose message does not outlive a
// single Manager.Send call should return it with PutMessage afterward.
func NewMessage(msgType types.MessageType, payload any) *types.Message {
	msg := GetMessage()
	msg.ID = uuid.NewString()
	msg.Type = msgType
	msg.Payload = payload
	msg.Timestamp = time.Now().UnixMilli()
	return msg
}

// GetResponse gets a Response from the pool.
func GetResponse() *types.Response {
	v := responsePool.Get()
	if resp, ok := v.(*types.Response); ok {
		return resp
	}
	return new(types.Response)
}

// PutResponse resets resp and returns it to the pool.
func PutResponse(resp *types.Response) {
	resp.Reset()
	responsePool.Put(resp)
}
