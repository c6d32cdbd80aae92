package exporter

import (
	"encoding/json"
	"net/http"

	"github.com/veesix-networks/dhcpmon/internal/health"
	"github.com/veesix-networks/dhcpmon/internal/monitor"
)

type healthResponse struct {
	Status string             `json:"status"`
	Ticks  uint64             `json:"ticks,omitempty"`
	Checks []health.CheckInfo `json:"checks,omitempty"`
}

func HealthzHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusOK)
		json.NewEncoder(rw).Encode(healthResponse{Status: "ok"})
	}
}

// ReadyzHandler answers 503 while any health check is alerting.
func ReadyzHandler(source StatusSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		st := source.Status()
		if st == nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(rw).Encode(healthResponse{Status: "starting"})
			return
		}

		resp := healthResponse{Ticks: st.Ticks, Checks: st.Checks}
		if st.Alerting() {
			resp.Status = "alerting"
			rw.WriteHeader(http.StatusServiceUnavailable)
		} else {
			resp.Status = "ready"
			rw.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(rw).Encode(resp)
	}
}

// StatusHandler returns the full published status including counters.
func StatusHandler(source StatusSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		st := source.Status()
		if st == nil {
			http.Error(rw, "no status yet", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(statusView(st))
	}
}

type deviceView struct {
	Name     string                                  `json:"name"`
	Role     string                                  `json:"role"`
	Current  map[string]map[string]map[string]uint64 `json:"current"`
	Snapshot map[string]map[string]map[string]uint64 `json:"snapshot"`
}

type statusResponse struct {
	*monitor.Status
	Devices []deviceView `json:"devices"`
}

func statusView(st *monitor.Status) statusResponse {
	out := statusResponse{Status: st, Devices: make([]deviceView, 0, len(st.Devices))}
	for _, d := range st.Devices {
		out.Devices = append(out.Devices, deviceView{
			Name:     d.Name,
			Role:     d.Role,
			Current:  namedTable(d.Current),
			Snapshot: namedTable(d.Snapshot),
		})
	}
	return out
}
