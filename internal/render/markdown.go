package render

import (
	"bytes"
	"fmt"
	"text/template"
)

type markdownRenderer struct{}

var mdTemplate = template.Must(template.New("summary").Parse(`# Pipeline Run {{ .Publish.RunID }}

**Decision:** quality={{ .Publish.QualityDecision }} monetization={{ .Publish.MonetizationDecision }}
**Deploy ready:** {{ .Publish.DeployReady }} | **Deployed:** {{ .Publish.Deployed }}
**Records:** {{ .Publish.RecordCount }} | **Site:** {{ .Publish.SiteBaseURL }}
{{ if .Quality }}
---

## Quality Gate · {{ .Quality.Decision }}
{{ range .Quality.HardReasons }}- **hard** {{ . }}
{{ end }}{{ range .Quality.SoftReasons }}- soft {{ . }}
{{ end }}{{ range $k, $v := .Quality.Metrics }}- {{ $k }}: {{ printf "%.4f" $v }}
{{ end }}{{ end }}{{ if .Monetization }}
---

## Monetization Gate · {{ .Monetization.Decision }}
{{ range .Monetization.HardReasons }}- **hard** {{ . }}
{{ end }}{{ range .Monetization.SoftReasons }}- soft {{ . }}
{{ end }}{{ range $k, $v := .Monetization.Metrics }}- {{ $k }}: {{ printf "%.4f" $v }}
{{ end }}{{ end }}
---
*Generated {{ .Publish.Timestamp.Format "2006-01-02T15:04:05Z07:00" }}*
`))

func (r *markdownRenderer) Render(summary *Summary) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, summary); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}
