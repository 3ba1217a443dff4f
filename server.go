package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/middlewares"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"bitbucket.org/mmdatafocus/shipdocs_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("shipdocs-intake")

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("sku", func(fl validator.FieldLevel) bool {
			return skuPattern.MatchString(fl.Field().String())
		})
	}
}

// RateLimiter throttles per client IP using a redis counter window.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rate:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		if err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count > rl.limit {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		c.Abort()
		return
	}
	c.Next()
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// requireRole gates a route on the actor's role claim.
func requireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetActorRoleFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		for _, r := range roles {
			if models.UserRole(role) == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
	}
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		token, user, err := models.Login(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"token": token,
			"user":  user,
		}})
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string          `json:"username" binding:"required"`
			Name     string          `json:"name" binding:"required"`
			Password string          `json:"password" binding:"required,min=8"`
			Role     models.UserRole `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		user, err := models.CreateUser(c.Request.Context(), req.Username, req.Name, req.Password, req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": user})
	}
}

func createItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInventoryItem
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		item, err := models.CreateInventoryItem(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": item})
	}
}

func listItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := models.GetInventoryItems(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": items})
	}
}

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": customer})
	}
}

func adjustStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		itemId, err := strconv.Atoi(c.Param("id"))
		if err != nil || itemId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
			return
		}

		var req struct {
			QtyDelta decimal.Decimal `json:"qty_delta" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		actorId, _ := utils.GetActorIdFromContext(ctx)

		movement, err := models.AdjustStock(ctx, itemId, req.QtyDelta, actorId)
		if err != nil {
			if errors.Is(err, models.ErrItemNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
				return
			}
			if errors.Is(err, models.ErrInsufficientStock) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": movement})
	}
}

func stockLevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		itemId, err := strconv.Atoi(c.Param("itemId"))
		if err != nil || itemId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
			return
		}

		stock, err := models.CurrentStock(c.Request.Context(), itemId)
		if err != nil {
			if errors.Is(err, models.ErrItemNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"item_id": itemId,
			"stock":   stock,
		}})
	}
}

func stockMovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		itemId, err := strconv.Atoi(c.Param("itemId"))
		if err != nil || itemId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
			return
		}

		movements, err := models.GetMovements(c.Request.Context(), itemId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": movements})
	}
}

func listReviewsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := models.GetOpenReviewTasks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": tasks})
	}
}

func resolveReviewHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		taskId, err := strconv.Atoi(c.Param("id"))
		if err != nil || taskId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
			return
		}

		actorId, _ := utils.GetActorIdFromContext(ctx)

		var corrected workflow.CorrectedShipment
		if err := c.ShouldBindJSON(&corrected); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		outcome, err := engine.ResolveReview(ctx, taskId, &corrected, actorId)
		if err != nil {
			status, msg := reconcileErrorStatus(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": outcome})
	}
}

func dismissReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskId, err := strconv.Atoi(c.Param("id"))
		if err != nil || taskId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
			return
		}
		actorId, _ := utils.GetActorIdFromContext(c.Request.Context())

		task, err := models.DismissReviewTask(c.Request.Context(), taskId, actorId)
		if err != nil {
			if errors.Is(err, models.ErrConcurrencyConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "task is no longer open"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": task})
	}
}

func getRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
			return
		}

		record, err := models.GetOutboundRecord(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": record})
	}
}

func advanceRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
			return
		}

		var req struct {
			Status models.RecordStatus `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		record, err := models.AdvanceOutboundRecord(c.Request.Context(), id, req.Status)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": record})
	}
}

func cancelRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
			return
		}
		actorId, _ := utils.GetActorIdFromContext(ctx)

		record, err := models.CancelOutboundRecord(ctx, id, actorId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": record})
	}
}

func parseYearMonth(c *gin.Context) (int, time.Month, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 2000 || year > 2200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return 0, 0, false
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return 0, 0, false
	}
	return year, time.Month(month), true
}

func getSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		year, month, ok := parseYearMonth(c)
		if !ok {
			return
		}

		summary, err := models.GetMonthlySummary(c.Request.Context(), year, month)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "summary not generated"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": summary})
	}
}

func regenerateSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx := c.Request.Context()
		year, month, ok := parseYearMonth(c)
		if !ok {
			return
		}
		actorId, _ := utils.GetActorIdFromContext(ctx)

		// Best-effort lock so two admins don't regenerate the same month at
		// once. Regeneration is an upsert, so losing the lock only wastes
		// work, never corrupts it.
		var lock *redislock.Lock
		if locker := config.GetRedisLock(); locker != nil {
			var err error
			lock, err = locker.Obtain(ctx, fmt.Sprintf("lock:summary:%d-%02d", year, month), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusConflict, gin.H{"error": "summary regeneration already in progress"})
				return
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"year":  year,
					"month": int(month),
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"year":  year,
					"month": int(month),
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		summary, err := models.RegenerateMonthlySummary(ctx, year, month, actorId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": summary})
	}
}

func exportSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		year, month, ok := parseYearMonth(c)
		if !ok {
			return
		}

		filename := fmt.Sprintf("shipments-%d-%02d.xlsx", year, int(month))
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")

		if err := models.ExportMonthlySummaryExcel(c.Request.Context(), year, month, c.Writer); err != nil {
			config.LogError(config.GetLogger(), "server.go", "exportSummaryHandler", "export excel", filename, err)
			c.Status(http.StatusInternalServerError)
			return
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Decimal JSON without quotes so stock levels read as numbers.
	decimal.MarshalJSONWithoutQuotes = true

	registerValidations()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the database is ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// The extraction provider is optional at startup: without an API key the
	// intake endpoint answers 503 while the rest of the API stays up.
	var pipeline *workflow.Pipeline
	capability, err := workflow.NewLLMCapability()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field": "extraction",
		}).Warn("extraction provider disabled: " + err.Error())
	} else {
		pipeline = workflow.NewPipeline(capability, capability)
	}
	engine := workflow.DefaultEngine()

	api := r.Group("/api")
	api.POST("/login", loginHandler())

	authed := api.Group("")
	authed.Use(middlewares.RequireAuth())

	authed.POST("/documents", documentUploadHandler(pipeline, engine))
	authed.GET("/documents/:hash", documentFetchHandler())
	authed.GET("/stock-levels/:itemId", stockLevelHandler())
	authed.GET("/stock-levels/:itemId/movements", stockMovementsHandler())
	authed.GET("/records/:id", getRecordHandler())
	authed.POST("/records/:id/advance", advanceRecordHandler())
	authed.POST("/records/:id/cancel", cancelRecordHandler())
	authed.GET("/summaries/:year/:month", getSummaryHandler())
	authed.GET("/summaries/:year/:month/export", exportSummaryHandler())

	reviews := authed.Group("/reviews")
	reviews.Use(requireRole(models.UserRoleAdmin, models.UserRoleReviewer))
	reviews.GET("", listReviewsHandler())
	reviews.POST("/:id/resolve", resolveReviewHandler(engine))
	reviews.POST("/:id/dismiss", dismissReviewHandler())

	admin := authed.Group("")
	admin.Use(requireRole(models.UserRoleAdmin))
	admin.POST("/users", createUserHandler())
	admin.POST("/items", createItemHandler())
	admin.GET("/items", listItemsHandler())
	admin.POST("/items/:id/adjust-stock", adjustStockHandler())
	admin.POST("/customers", createCustomerHandler())
	admin.POST("/summaries/:year/:month/regenerate", regenerateSummaryHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Reservation checks rely on reading committed ledger rows, not on
	// repeatable snapshots.
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
