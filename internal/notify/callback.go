package notify

import (
	"fmt"
	"strings"
)

// CallbackData encodes an operator button as {prefix}_{fileID}_{STATUS}.
func CallbackData(prefix, fileID, status string) string {
	return prefix + "_" + fileID + "_" + status
}

// Callback is a decoded operator button press.
type Callback struct {
	Prefix string
	FileID string
	Status string
}

// ParseCallback decodes a callback payload. The file id may itself contain
// underscores; prefix and status may not.
func ParseCallback(payload string) (Callback, error) {
	first := strings.Index(payload, "_")
	last := strings.LastIndex(payload, "_")
	if first <= 0 || last <= first+1 || last == len(payload)-1 {
		return Callback{}, fmt.Errorf("malformed callback payload %q", payload)
	}
	return Callback{
		Prefix: payload[:first],
		FileID: payload[first+1 : last],
		Status: payload[last+1:],
	}, nil
}
