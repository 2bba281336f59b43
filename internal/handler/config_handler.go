package handler

import "net/http"

// ClientConfig はフロントエンドに渡す表示設定。
type ClientConfig struct {
	SchoolName string   `json:"school"`
	PassTitle  string   `json:"passTitle"`
	Locations  []string `json:"locations"`
	Timezone   string   `json:"timezone"`
}

// NewConfigHandler は表示設定を返すハンドラーを生成する。
// GET /api/config
func NewConfigHandler(cfg ClientConfig) http.HandlerFunc {
	if cfg.Locations == nil {
		cfg.Locations = []string{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, cfg)
	}
}
