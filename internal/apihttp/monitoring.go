package apihttp

import (
	"net/http"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-api/internal/monitoring"
)

// maxReportMinutes bounds the report window to one day
const maxReportMinutes = 24 * 60

// Monitor is the read side of the aggregator.
type Monitor interface {
	Report(minutes int) monitoring.Report
	Export() monitoring.Export
}

func (api *API) handleReport(w http.ResponseWriter, r *http.Request) {
	minutes := monitoring.DefaultWindowMinutes
	if s := r.URL.Query().Get("minutes"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxReportMinutes {
			api.fail(w, r, http.StatusBadRequest, "minutes must be an integer between 1 and 1440")
			return
		}
		minutes = n
	}
	api.ok(w, r, http.StatusOK, MsgRetrieved, api.monitor.Report(minutes))
}

func (api *API) handleExport(w http.ResponseWriter, r *http.Request) {
	api.ok(w, r, http.StatusOK, MsgRetrieved, api.monitor.Export())
}
