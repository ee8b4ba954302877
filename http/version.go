package http

import (
	"net/http"
	"runtime"
)

// HandleVersion reports the server version. Clients asking for JSON also
// get the Go version the server was built with.
func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/json" {
			writeJSON(w, http.StatusOK, struct {
				Version   string `json:"version"`
				GoVersion string `json:"go_version"`
			}{
				Version:   version,
				GoVersion: runtime.Version(),
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}
