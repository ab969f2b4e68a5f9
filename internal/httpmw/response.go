package httpmw

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// JSON encodes v and writes it with the given status code. An encoding
// failure is answered with a 500 instead.
func JSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}
