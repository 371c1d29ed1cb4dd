package router

import (
	"github.com/gin-gonic/gin"

	"github.com/evidchain/ai-analysis-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Live)
	r.GET("/health/ready", healthHandler.Ready)
	r.GET("/health/detailed", healthHandler.Detailed)

	analysisHandler := handler.NewAnalysisHandler(deps)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(deps.Verifier, deps.Logger))
	{
		analysis := v1.Group("/analysis")
		{
			analysis.POST("/submit", analysisHandler.SubmitAnalysis)
			analysis.POST("/batch", analysisHandler.SubmitBatchAnalysis)
			analysis.GET("/status/:analysis_id", analysisHandler.GetStatus)
			analysis.GET("/results/:analysis_id", analysisHandler.GetResults)
			analysis.DELETE("/cancel/:analysis_id", analysisHandler.CancelAnalysis)
			analysis.GET("/queue/status", analysisHandler.GetQueueStatus)
			analysis.GET("/types", analysisHandler.GetAnalysisTypes)
		}

		evidence := v1.Group("/evidence")
		{
			evidence.GET("/:evidence_id/analyses", analysisHandler.ListEvidenceAnalyses)
		}
	}

	return r
}
