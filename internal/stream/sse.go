package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE writes e as a server-sent event: "event: <kind>\ndata: <json>\n\n".
func WriteSSE(w io.Writer, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
	return err
}
