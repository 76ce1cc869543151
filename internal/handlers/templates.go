package handlers

import "html/template"

var pages = template.Must(template.New("index.html").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>BarSight</title></head>
<body>
<h1>Barcode &amp; QR scanner</h1>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
<form action="/scan" method="post" enctype="multipart/form-data">
  <input type="file" name="image" accept=".jpg,.jpeg,.png" required>
  <button type="submit">Scan</button>
  <small>jpg, jpeg or png, up to {{.MaxMB}} MB</small>
</form>
</body>
</html>`))

func init() {
	template.Must(pages.New("result.html").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>BarSight result</title></head>
<body>
<h1>{{.Result.Filename}}</h1>
<p>Status: <b>{{.Result.Status}}</b>{{if .Result.Cached}} (cached){{end}}</p>
{{if .Annotated}}<img src="{{.Annotated}}" alt="annotated detections" style="max-width:100%">{{end}}
{{if .Result.Regions}}
<table border="1" cellpadding="4">
  <tr><th>BBox ID</th><th>Source</th><th>Decoded Content</th><th>Type</th></tr>
  {{range .Result.Regions}}<tr><td>{{.BBoxID}}</td><td>{{.Source}}</td><td>{{.Content}}</td><td>{{.Type}}</td></tr>
  {{end}}
</table>
<p><a href="/scan/{{.Result.RequestID}}/csv">Download CSV</a></p>
{{else}}
<p>No barcodes or QR codes detected.</p>
{{end}}
<p><a href="/">Scan another image</a></p>
</body>
</html>`))
}
