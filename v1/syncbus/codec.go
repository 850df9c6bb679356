package syncbus

import (
	"encoding/base64"
	"encoding/json"
)

func encodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// subjectToken turns a resource name into a token that is safe to use in
// NATS subjects, which reserve '.', '*' and '>'.
func subjectToken(resource string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(resource))
}
