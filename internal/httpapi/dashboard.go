package httpapi

import (
	"html/template"
	"net/http"
	"time"

	"github.com/tractorcare/fieldsync/internal/pending"
)

var statusPageTemplate = template.Must(template.New("status").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>FieldSync Status</title>
  <style>
    body { margin: 0; padding: 24px; font-family: "Segoe UI", sans-serif; color: #102223; background: #f8f4ea; }
    h1 { font-size: 1.4rem; }
    .badge { display: inline-block; padding: 4px 10px; border-radius: 999px; font-weight: 600; }
    .online { background: #d7f2ec; color: #146b5c; }
    .offline { background: #f7ddd9; color: #a23a31; }
    table { border-collapse: collapse; margin-top: 16px; background: #fffdf9; }
    th, td { border: 1px solid #d7cbb3; padding: 8px 14px; text-align: left; }
    .state-failed { color: #c2483f; font-weight: 600; }
    footer { margin-top: 20px; color: #6f7d7d; font-size: 0.85rem; }
  </style>
</head>
<body>
  <h1>FieldSync</h1>
  <p>Connectivity:
    {{if .Online}}<span class="badge online">online</span>
    {{else}}<span class="badge offline">offline</span>{{end}}
    {{if .Syncing}}&middot; drain pass in progress{{end}}
  </p>
  <table>
    <tr><th>Tractor</th><th>Pending</th><th>Failed</th></tr>
    {{range .Tractors}}
    <tr>
      <td>{{.ID}}</td>
      <td>{{.Pending}}</td>
      <td>{{if .Failed}}<span class="state-failed">{{.Failed}}</span>{{else}}0{{end}}</td>
    </tr>
    {{else}}
    <tr><td colspan="3">queue is empty</td></tr>
    {{end}}
  </table>
  <footer>generated {{.GeneratedAt}}</footer>
</body>
</html>
`))

type statusPageTractor struct {
	ID      string
	Pending int
	Failed  int
}

type statusPageData struct {
	Online      bool
	Syncing     bool
	Tractors    []statusPageTractor
	GeneratedAt string
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	data := statusPageData{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if s.monitor != nil {
		data.Online = s.monitor.IsOnline()
	}
	if s.coordinator != nil {
		data.Syncing = s.coordinator.IsSyncing()
	}
	tractorIDs, err := s.store.TractorIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to read queue state", getCorrelationID(r))
		return
	}
	for _, tractorID := range tractorIDs {
		entries, err := s.store.List(tractorID)
		if err != nil {
			continue
		}
		row := statusPageTractor{ID: tractorID, Pending: len(entries)}
		for _, entry := range entries {
			if entry.State == pending.StateFailed {
				row.Failed++
			}
		}
		data.Tractors = append(data.Tractors, row)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = statusPageTemplate.Execute(w, data)
}
