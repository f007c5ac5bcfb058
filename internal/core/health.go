package core

import "net/http"

// healthResponse is the body returned by the health endpoint.
type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
}

// HandleHealth reports process liveness. It intentionally performs no
// dependency checks so that load balancers never cascade a database outage
// into instance churn.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	env := ""
	if s.Config != nil {
		env = s.Config.Environment
	}
	JSON(w, r, http.StatusOK, healthResponse{
		Status:      "ok",
		Environment: env,
	})
}
