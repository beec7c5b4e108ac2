package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alertapi"
)

// maxAlertBody caps request bodies. Wazuh alerts carry full_log and decoder
// output.
const maxAlertBody = 512 << 10

type handlerDeps struct {
	logger      log.Logger
	api         *alertapi.API
	trustedHops int
	healthz     http.HandlerFunc
	readyz      http.HandlerFunc
	// instrument wraps the handler with HTTP metrics; nil skips it.
	instrument func(http.Handler) http.Handler
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/-/healthy" || r.URL.Path == "/-/ready" || r.URL.Path == "/health"
}

// newHandler builds the main listener handler. Wrappers run outermost first
// on the request and last on the response.
func newHandler(d handlerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxAlertBody))

	r.Get("/-/healthy", d.healthz)
	r.Get("/-/ready", d.readyz)
	d.api.RegisterRoutes(r)

	var h http.Handler = r

	// request scoped logger sees trace ids and the chi route
	h = httpmw.WithLogger(d.logger)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return !isProbe(r) }),
		// AnnotateHTTPRoute renames the span to the route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// wazuh posts from outside our trace domain
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	if d.instrument != nil {
		h = d.instrument(h)
	}
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: d.trustedHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(d.logger, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}
