package transport

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

var dashboardTemplates = template.Must(template.New("dashboard").Parse(`{{define "dashboard"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <meta http-equiv="refresh" content="5"/>
  <title>Feeder</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .grid{display:grid;grid-template-columns:1fr 1fr 1fr;gap:12px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .btn{background:#b3261e;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1>Feeder</h1>
    <div class="muted">as of {{.Time.Format "2006-01-02 15:04:05"}}
      {{if .Stopping}}<span class="status">stopping</span>{{end}}
      {{if .CollectorsDone}}<span class="status">collection finished</span>{{end}}
    </div>
  </header>

  <div class="card grid">
    <div>Outbound<br/><strong>{{.Outbound}}</strong></div>
    <div>Pending<br/><strong>{{.Pending}}</strong></div>
    <div>Files seen / done<br/><strong>{{.FilesSeen}} / {{.FilesDone}}</strong></div>
    <div>Collected<br/><strong>{{.FilesCollected}}</strong> files in {{.BundlesCollected}} bundles</div>
    <div>Completed / failed<br/><strong>{{.Completed}} / {{.Failed}}</strong></div>
    <div>Retried / discarded<br/><strong>{{.Retried}} / {{.Discarded}}</strong></div>
  </div>

  <div class="card">
    <h3>Workers</h3>
    {{if .Workers}}
      <ul class="list">
      {{range .Workers}}<li class="mono">{{.}}</li>{{end}}
      </ul>
    {{else}}
      <div class="muted">No workers registered</div>
    {{end}}
    {{if .TakenBy}}
      <h3>Taken by host</h3>
      <ul class="list">
      {{range $host, $n := .TakenBy}}<li><span class="mono">{{$host}}</span>: {{$n}}</li>{{end}}
      </ul>
    {{end}}
  </div>

  <div class="card">
    <a href="/api/v1/pending" target="_blank">Pending bundles (XML)</a> ·
    <a href="/api/v1/status" target="_blank">Status (JSON)</a>
    {{if not .Stopping}}
    <form method="post" action="/ui/stop" style="margin-top:12px">
      <button class="btn" type="submit">Finish once drained</button>
    </form>
    {{end}}
  </div>
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}
`))

// RegisterUIRoutes registers the status dashboard.
func (a *CoordinatorAPI) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(dashboardTemplates)
	router.GET("/", a.UIDashboard)
	router.POST("/ui/stop", a.UIStop)
}

func (a *CoordinatorAPI) UIDashboard(c *gin.Context) {
	c.HTML(http.StatusOK, "dashboard", a.coord.Status())
}

func (a *CoordinatorAPI) UIStop(c *gin.Context) {
	a.coord.Stop()
	c.Redirect(http.StatusSeeOther, "/")
}
