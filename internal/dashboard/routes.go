package dashboard

import (
	"net/http"
	"strconv"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/healthz", handleHealth(db))

	api := router.Group("/api")
	api.GET("/summary", handleSummary(db))
	api.GET("/groups", handleGroupList(db))
	api.GET("/groups/:key", handleGroupDetail(db))
	api.GET("/workers", handleWorkers(db))
	api.GET("/events", handleSSE(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleSummary(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := queue.Summary(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		counts := make(map[string]int64, len(rows))
		for _, r := range rows {
			counts[r.State] = r.Count
		}
		c.JSON(http.StatusOK, gin.H{"states": counts})
	}
}

func handleGroupList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		items, err := queue.List(db, c.Query("state"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": items})
	}
}

func handleGroupDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		item, err := queue.Get(db, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if item == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}

		var files []models.IndexedFile
		if err := db.Where("group_key = ?", key).
			Order("slot ASC").Find(&files).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var events []models.QueueEvent
		if err := db.Where("group_key = ?", key).
			Order("id ASC").Find(&events).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"item":   item,
			"files":  files,
			"events": events,
		})
	}
}

func handleWorkers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var workers []models.Worker
		if err := db.Order("last_activity DESC").Find(&workers).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"workers": workers})
	}
}
