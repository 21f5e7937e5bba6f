package api

import (
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeAPIResponse(w, map[string]string{"status": "ok"}, nil, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tip := s.tip.Current()
	data := map[string]interface{}{
		"ready":    tip != nil,
		"formulas": len(s.registry.List()),
	}
	if tip != nil {
		data["chain_id"] = tip.ChainID
		data["latest_block_height"] = tip.LatestBlockHeight
		data["latest_block_time_unix_ms"] = tip.LatestBlockTimeUnixMs
	}
	writeAPIResponse(w, data, nil, nil)
}

func (s *Server) handleFormulas(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	writeAPIResponse(w, list, map[string]interface{}{"count": len(list)}, nil)
}
