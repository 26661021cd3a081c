package api

import (
	"fmt"
	"net/http"
)

// handleExport streams a .apkg archive, per spec.md §4.7/§6.1.
func (d *Deps) handleExport(w http.ResponseWriter, r *http.Request) {
	username, _ := usernameFrom(r.Context())

	data, filename, err := d.Export.Export(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
