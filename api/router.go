// Package api exposes agent definitions, MCP server registrations, chat
// transcripts and agent execution over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/zanbei/agentx/catalog"
	"github.com/zanbei/agentx/metrics"
	"github.com/zanbei/agentx/pipeline"
	"github.com/zanbei/agentx/store"
	"github.com/zanbei/agentx/telemetry"
)

// Deps are the services the handlers call into.
type Deps struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Executor *pipeline.Executor
	// ToolServer, when set, is mounted at /mcp.
	ToolServer http.Handler
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(corsOrigins []string, d Deps) http.Handler {
	h := &handlers{store: d.Store, catalog: d.Catalog, exec: d.Executor}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Chat-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/agent", func(r chi.Router) {
		r.Get("/list", h.listAgents)
		r.Get("/get/{id}", h.getAgent)
		r.Delete("/delete/{id}", h.deleteAgent)
		r.Post("/createOrUpdate", h.putAgent)
		r.Get("/tool_list", h.toolList)
		r.Post("/stream_chat", h.streamChat)
		r.Post("/async_chat", h.asyncChat)
		r.Get("/ws_chat", h.wsChat)
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Get("/list", h.listMCPServers)
		r.Get("/get/{id}", h.getMCPServer)
		r.Delete("/delete/{id}", h.deleteMCPServer)
		r.Post("/createOrUpdate", h.putMCPServer)
		if d.ToolServer != nil {
			r.Handle("/", d.ToolServer)
		}
	})

	r.Route("/chat", func(r chi.Router) {
		r.Get("/list_record", h.listChatRecords)
		r.Get("/get_chat", h.getChat)
		r.Get("/list_chat_responses", h.listChatResponses)
		r.Delete("/del_chat", h.deleteChat)
	})

	r.Route("/schedule", func(r chi.Router) {
		r.Get("/list", h.listSchedules)
		r.Post("/create", h.createSchedule)
		r.Put("/update/{id}", h.updateSchedule)
		r.Delete("/delete/{id}", h.deleteSchedule)
		r.Post("/trigger", h.triggerSchedule)
		r.Post("/validate", h.validateSchedule)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "agentx",
		"version": telemetry.Version,
	})
}
