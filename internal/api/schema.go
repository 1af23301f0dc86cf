package api

import (
	"net/http"

	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/schemaviz"
)

func (s *Server) routeSchema(mux *http.ServeMux) {
	mux.HandleFunc("GET /schema/visualization", s.handle(authAdmin, nil, s.schemaVisualization))
	mux.HandleFunc("GET /schema/tables", s.handle(authAdmin, nil, s.schemaTables))
}

func (s *Server) schemaVisualization(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	graph, err := schemaviz.Build(r.Context(), rc.conn)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, graph)
	return nil
}

// schemaTables lists the visible base tables, the flat companion to the graph.
func (s *Server) schemaTables(w http.ResponseWriter, r *http.Request, rc *reqCtx) error {
	graph, err := schemaviz.Build(r.Context(), rc.conn)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		names = append(names, n.Label)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tables": names})
	return nil
}
