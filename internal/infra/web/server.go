package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	red "bulc-license-server/internal/infra/redis"
	"bulc-license-server/internal/usecase"
)

// Server is the HTTP surface of the licensing core: the client validation
// protocol plus the admin catalog/license API.
type Server struct {
	validationUC *usecase.ValidationUseCase
	licenseUC    *usecase.LicenseUseCase
	planUC       *usecase.PlanUseCase

	auth          *AuthManager
	limiter       *red.RateLimiter // nil disables rate limiting
	validateLimit int              // requests per device per minute

	log *zerolog.Logger
}

func NewServer(
	validationUC *usecase.ValidationUseCase,
	licenseUC *usecase.LicenseUseCase,
	planUC *usecase.PlanUseCase,
	auth *AuthManager,
	limiter *red.RateLimiter,
	validateLimit int,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		validationUC:  validationUC,
		licenseUC:     licenseUC,
		planUC:        planUC,
		auth:          auth,
		limiter:       limiter,
		validateLimit: validateLimit,
		log:           logger,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(logMiddleware(s.log))

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/licenses", func(r chi.Router) {
				r.Post("/validate", s.validateHandler)
				r.Post("/heartbeat", s.heartbeatHandler)
				r.Post("/validate-force", s.forceValidateHandler)
				r.Post("/deactivate", s.deactivateHandler)
				r.Get("/my", s.myLicensesHandler)
				r.Get("/my/{licenseID}", s.myLicenseHandler)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)

				r.Route("/plans", func(r chi.Router) {
					r.Get("/", s.plansListHandler)
					r.Post("/", s.plansCreateHandler)
					r.Get("/{planID}", s.plansGetHandler)
					r.Put("/{planID}", s.plansUpdateHandler)
					r.Delete("/{planID}", s.plansDeleteHandler)
				})

				r.Route("/licenses", func(r chi.Router) {
					r.Post("/", s.licenseIssueHandler)
					r.Get("/{licenseID}", s.licenseGetHandler)
					r.Post("/{licenseID}/suspend", s.licenseSuspendHandler)
					r.Post("/{licenseID}/revoke", s.licenseRevokeHandler)
					r.Post("/{licenseID}/renew", s.licenseRenewHandler)
				})
			})
		})
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
