package apierr

import (
	"encoding/json"
	"net/http"
)

// Body is the JSON shape of an error response.
type Body struct {
	Code    Kind   `json:"code"`
	Message string `json:"message"`
}

// EncodeHTTP writes err as a JSON error body with the status of its kind.
func EncodeHTTP(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(Body{Code: KindOf(err), Message: Message(err)})
}
