package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the notebook websocket endpoint plus the small
// amount of plain HTTP the process exposes.
func RegisterRoutes(router *gin.Engine, kernel *KernelHandler) {
	router.GET("/health", kernel.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", kernel.Health)
		v1.GET("/kernels", kernel.ListKernels)
	}

	router.GET("/ws", kernel.WebSocketConnect)
}
