package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

const maxBodyBytes = 64 << 10

var errMalformedBody = errors.New("malformed request body")

// readFields returns the flat string fields of a form or JSON body.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		out := map[string]string{}
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = strings.TrimSpace(v[0])
		}
	}
	return out, nil
}
