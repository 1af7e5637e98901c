package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pushcron/internal/dispatch"
)

// Message is the wire form shared by the webhook and pub/sub drivers.
type Message struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Target    dispatch.Target   `json:"target"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage stamps env with a fresh id. Data is shared with env, which is
// never modified after Build.
func NewMessage(env dispatch.Envelope) Message {
	return Message{
		ID:        uuid.NewString(),
		Title:     env.Title,
		Body:      env.Body,
		Data:      env.Data,
		Target:    env.Target,
		CreatedAt: time.Now().UTC(),
	}
}

func encode(env dispatch.Envelope) (Message, []byte, error) {
	m := NewMessage(env)
	b, err := json.Marshal(m)
	return m, b, err
}
