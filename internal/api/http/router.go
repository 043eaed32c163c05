package http

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(
	allowedOrigins []string,
	verifier TokenVerifier,
	userController *UserController,
	roomController *RoomController,
	signalController *SignalController,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	config := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	protected := api.Group("", JWTAuth(verifier))

	if userController != nil {
		authGroup := api.Group("/auth")
		authGroup.POST("/signup", userController.SignUp)
		authGroup.POST("/signin", userController.SignIn)
		authGroup.POST("/federated", userController.SignInFederated)

		api.GET("/roles/:role", userController.DescribeRole)

		users := protected.Group("/users")
		users.GET("/me", userController.Me)
		users.PATCH("/me", userController.UpdateMe)
		users.PUT("/:uid/role", userController.AssignRole)
	}

	if roomController != nil {
		rooms := protected.Group("/rooms")
		rooms.POST("", roomController.CreateRoom)
		rooms.GET("/:roomID/ws", roomController.JoinRoom)
	}

	if signalController != nil {
		api.GET("/signal", signalController.Signal)
	}

	return router
}
