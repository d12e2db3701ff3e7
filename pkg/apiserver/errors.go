package apiserver

import (
	"errors"
	"net/http"

	"github.com/katakate/k7/pkg/sandbox"
)

// writeErrorForSandboxErr maps the pkg/sandbox error taxonomy onto HTTP
// status codes, the Go equivalent of the original API's single
// HTTPException code_map table.
func writeErrorForSandboxErr(w http.ResponseWriter, err error) {
	var (
		validation *sandbox.ValidationError
		conflict   *sandbox.Conflict
		notFound   *sandbox.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
