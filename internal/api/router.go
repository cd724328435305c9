package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	_ "go-subband-ingest/docs"
	"go-subband-ingest/internal/api/handler"
	"go-subband-ingest/internal/metrics"
	"go-subband-ingest/internal/store"
	"go-subband-ingest/pkg/router"
)

// RegisterRoutes wires the operator endpoints onto r.
func RegisterRoutes(r *router.Router, st *store.Store) {
	q := handler.NewQueue(st)

	r.GET("/healthz", q.GetHealth)
	r.GET("/api/v1/queue", q.GetQueueStatus)
	r.GET("/api/v1/groups", q.ListGroups)
	// More specific routes first
	r.POST("/api/v1/groups/*/requeue", q.RequeueGroup)
	// Generic group route last
	r.GET("/api/v1/groups/*", q.GetGroup)

	r.Mount("/metrics", metrics.Handler())
	r.Mount("/swagger/", httpSwagger.WrapHandler)
}
