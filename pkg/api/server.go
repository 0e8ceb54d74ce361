package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pacehq/pace/pkg/accessrequest"
	"github.com/pacehq/pace/pkg/capability"
	"github.com/pacehq/pace/pkg/httputil"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/tenancy"
	"github.com/pacehq/pace/pkg/workflow"
)

// Dependencies carries everything the server mounts
type Dependencies struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry
	Extractor *identity.Extractor

	Engine         *capability.Engine
	Capabilities   *capability.Handler
	Workflows      *workflow.Handler
	AccessRequests *accessrequest.Handler

	MetricsEnabled bool
}

// Server is the assembled HTTP API
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the router and middleware chain. The chain is
// recover, metrics, then identity and tenant stamping for the
// authenticated subrouter; capability guards are applied per route.
func NewServer(deps Dependencies) *Server {
	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(deps.Logger))
	if deps.MetricsEnabled && deps.Metrics != nil {
		router.Use(deps.Metrics.HTTPMiddleware)
	}

	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	if deps.MetricsEnabled && deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler(deps.Registry)).Methods(http.MethodGet)
	}

	// Access-request creation allows a body user_id fallback, so it lives
	// outside the required-identity chain and extracts for itself
	open := router.NewRoute().Subrouter()

	authed := router.NewRoute().Subrouter()
	authed.Use(identity.NewMiddleware(deps.Extractor, false).Handler)
	authed.Use(tenancy.Middleware)

	viewRFP := workflow.Guard(capability.RequireCapability(deps.Engine, deps.Logger, "view_rfp"))
	approveRFP := workflow.Guard(capability.RequireCapability(deps.Engine, deps.Logger, "approve_rfp"))

	deps.AccessRequests.RegisterRoutes(open, authed)
	deps.Workflows.RegisterRoutes(authed, viewRFP, approveRFP)
	deps.Capabilities.RegisterRoutes(authed)

	return &Server{router: router, logger: deps.Logger}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}
