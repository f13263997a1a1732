// Package gateway fronts the circulation and inventory services under
// /api/v1.
package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"lendingcore/internal/apperr"
	"lendingcore/internal/config"
	"lendingcore/internal/httpx"
)

const prefix = "/api/v1"

var errUpstream = apperr.Unavailable("upstream_unavailable", "upstream service unavailable")

// New builds the gateway router. Loans go to circulation, copies and items
// to inventory.
func New(cfg config.GatewayConfig, log *zap.Logger) (http.Handler, error) {
	circ, err := proxy("circulation", cfg.CirculationURL, log)
	if err != nil {
		return nil, err
	}
	inv, err := proxy("inventory", cfg.InventoryURL, log)
	if err != nil {
		return nil, err
	}

	r := httpx.NewRouter(log)
	r.Route(prefix, func(r chi.Router) {
		r.Handle("/loans", circ)
		r.Handle("/loans/*", circ)
		r.Handle("/copies", inv)
		r.Handle("/copies/*", inv)
		r.Handle("/items/*", inv)
	})
	return r, nil
}

func proxy(name, raw string, log *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("gateway: bad %s url %q", name, raw)
	}
	log = log.With(zap.String("upstream", name))

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = singleSlash(target.Path, strings.TrimPrefix(pr.In.URL.Path, prefix))
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
			otel.GetTextMapPropagator().Inject(pr.In.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("proxy failed", zap.String("path", r.URL.Path), zap.Error(err))
			httpx.WriteError(w, log, errUpstream)
		},
	}
	return rp, nil
}

func singleSlash(a, b string) string {
	return strings.TrimSuffix(a, "/") + "/" + strings.TrimPrefix(b, "/")
}
