package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcelujan/mgq-admin-sub000/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, dailyRunSecret string) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pricewatch-api-service",
		})
	})

	// Initialize handlers
	jobHandler := handler.NewJobHandler(deps)
	pricingHandler := handler.NewPricingHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue scrape jobs
			jobs.POST("", jobHandler.CreateJobs)

			// GET /api/v1/jobs - List jobs with offer counts
			jobs.GET("", jobHandler.ListJobs)

			// POST /api/v1/jobs/run-next - Claim and execute the next job
			jobs.POST("/run-next", jobHandler.RunNext)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/approve - Confirm a candidate as an offer
			jobs.POST("/:job_id/approve", jobHandler.ApproveJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		pricing := v1.Group("/pricing")
		pricing.Use(BearerAuthMiddleware(dailyRunSecret, deps.Logger))
		{
			// POST /api/v1/pricing/daily-run - Run one slice of today's run
			pricing.POST("/daily-run", pricingHandler.DailyRun)
		}

		items := v1.Group("/items")
		{
			// GET /api/v1/items/:item_id/price-history - Confirmed daily prices
			items.GET("/:item_id/price-history", pricingHandler.PriceHistory)
		}
	}

	return r
}
