package controller

import "net/http"

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"claim_sources": len(c.App.Registry.AllSources()),
	})
}
