package ui

import (
	"bytes"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"abstat/domain/experiment"
)

var pageHeader = []byte(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Experiment Report</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
</style>
</head>
<body>
`)

var pageFooter = []byte("\n</body>\n</html>\n")

// RenderHTML converts a report's markdown summary into a standalone page
func RenderHTML(report *experiment.Report) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	body := markdown.ToHTML([]byte(report.Markdown()), p, renderer)

	var buf bytes.Buffer
	buf.Grow(len(pageHeader) + len(body) + len(pageFooter))
	buf.Write(pageHeader)
	buf.Write(body)
	buf.Write(pageFooter)
	return buf.Bytes()
}
