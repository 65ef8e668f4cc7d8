// Package prometheus renders the core counter registry in Prometheus
// text exposition format without a client-library dependency.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/feedrlabs/identity"
	"github.com/feedrlabs/identity/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() identity.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders counters on demand; it holds no state beyond the
// source reference.
type Exporter struct {
	source metricsSource
}

// New creates an exporter reading from the given [identity.Core].
func New(core *identity.Core) *Exporter {
	return &Exporter{source: core}
}

// NewFromSource creates an exporter from any snapshot source.
func NewFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the rendered metrics over HTTP.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current counters in text exposition format.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	writeCounter(&b, "identity_audit_dropped_total",
		"Audit events shed by the dispatcher under backpressure.", dropped)

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
