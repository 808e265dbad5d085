package handler

import "html/template"

type redirectData struct {
	Action string
	Field  string
	Token  string
}

type outcomeData struct {
	Kind    string
	Heading string
	Message string
	Details []string
	Retry   bool
	Token   string
	Field   string
}

var templates = template.Must(template.New("pages").Parse(`
{{define "redirect"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form method="POST" action="{{.Action}}">
<input type="hidden" name="{{.Field}}" value="{{.Token}}">
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
{{end}}

{{define "outcome"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Heading}}</title></head>
<body>
<div class="card outcome-{{.Kind}}" id="payment-result">
<h2>{{.Heading}}</h2>
<p>{{.Message}}</p>
{{range .Details}}<p>{{.}}</p>
{{end}}{{if .Retry}}<form method="POST" action="/checkout/return">
<input type="hidden" name="{{.Field}}" value="{{.Token}}">
<button type="submit">Check payment status again</button>
</form>
{{end}}<a href="/">Back to the store</a>
</div>
</body>
</html>
{{end}}
`))
