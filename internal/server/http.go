package server

import (
	"context"
	nethttp "net/http"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/data"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器（运维端点：/metrics、/healthz）
func NewHTTPServer(c *conf.Bootstrap, d *data.Data) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.HTTP != nil {
		if c.Server.HTTP.Network != "" {
			opts = append(opts, http.Network(c.Server.HTTP.Network))
		}
		if c.Server.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.Server.HTTP.Addr))
		}
		if t := conf.Duration(c.Server.HTTP.Timeout, 0); t > 0 {
			opts = append(opts, http.Timeout(t))
		}
	}
	srv := http.NewServer(opts...)
	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Ping(ctx); err != nil {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: " + err.Error()))
			return
		}
		w.Write([]byte("ok"))
	})
	return srv
}
