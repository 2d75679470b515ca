package handlers

import "github.com/gin-gonic/gin"

// Register 注册 /api/v1 下的全部路由
func (h *Handlers) Register(r gin.IRouter) {
	api := r.Group("/api/v1")

	// 健康检查
	api.GET("/health", h.Health)
	api.GET("/ready", h.Ready)

	// 上传
	upload := api.Group("/upload")
	{
		upload.POST("/salaries", h.UploadSalaries)
		upload.POST("/cities", h.UploadCities)
	}
	api.GET("/uploads/:id/file", h.DownloadUpload)

	// 计算
	api.POST("/calculate", h.Calculate)
	calculations := api.Group("/calculations")
	{
		calculations.POST("", h.EnqueueCalculation)
		calculations.GET("/:id", h.GetCalculation)
	}

	runs := api.Group("/runs")
	{
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
	}

	api.GET("/results", h.Results)
}
