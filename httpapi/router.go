package httpapi

import "github.com/gin-gonic/gin"

// NewRouter wires the middleware chain and every route
func NewRouter(h *Handler, origins []string) *gin.Engine {
	router := gin.New()

	router.Use(RequestID())
	router.Use(Recovery())
	router.Use(RequestLogger())
	router.Use(CORS(origins))

	router.GET("/health", h.Health)

	api := router.Group("/api")
	api.Use(NoCache())
	{
		api.GET("/jobs/:jobId/proposals", h.ListProposals)

		api.POST("/proposals/:id/checkout", h.OpenCheckout)
		api.POST("/proposals/:id/discard", h.Discard)
		api.POST("/proposals/:id/decline", h.Decline)
		api.GET("/discard-reasons", h.DiscardReasons)

		api.GET("/checkout/:sessionId", h.GetCheckout)
		api.PATCH("/checkout/:sessionId", h.UpdateCheckout)
		api.POST("/checkout/:sessionId/submit", h.SubmitCheckout)
		api.DELETE("/checkout/:sessionId", h.CloseCheckout)

		api.GET("/fees", h.Fees)
		api.POST("/cards/classify", h.ClassifyCard)

		api.GET("/ledger/partial-failures", h.PartialFailures)
	}

	return router
}
