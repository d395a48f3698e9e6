// Package testbackend is a fake institute API for tests and examples. It
// issues bearer tokens, renews them, and serves a few resources plus the
// failure shapes a real deployment produces (gateway HTML, error bodies).
package testbackend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const RefreshPath = "/auth/refresh"

// Backend is an httptest server running a gin engine.
type Backend struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	generation   int
	refreshes    int
	failRefresh  bool
	delay        time.Duration
	hits         map[string]int

	engine *gin.Engine
	server *httptest.Server
}

// New starts a backend. Close it when done.
func New() *Backend {
	gin.SetMode(gin.TestMode)

	b := &Backend{hits: make(map[string]int)}
	b.rotate()

	r := gin.New()
	r.Use(b.count())
	r.POST(RefreshPath, b.refresh)

	api := r.Group("/", b.requireToken())
	api.GET("/attendance", b.attendance)
	api.GET("/homework", b.homework)
	api.POST("/homework", b.createHomework)
	api.GET("/lectures/:id", b.lecture)
	api.GET("/export", b.export)
	api.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.GET("/portal", b.portal)
	r.GET("/boom", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database unavailable"})
	})
	r.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "lecture not found"})
	})

	b.engine = r
	b.server = httptest.NewServer(r)
	return b
}

func (b *Backend) URL() string { return b.server.URL }

func (b *Backend) Close() { b.server.Close() }

// Engine exposes the router for extra routes. Register them before the
// first request.
func (b *Backend) Engine() *gin.Engine { return b.engine }

// Tokens returns the currently valid pair, as a sign-in would.
func (b *Backend) Tokens() (access, refresh string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessToken, b.refreshToken
}

// ExpireToken invalidates the current access token. The refresh token stays
// valid so the next renewal succeeds.
func (b *Backend) ExpireToken() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessToken = fmt.Sprintf("expired-%d", b.generation)
}

func (b *Backend) SetFailRefresh(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRefresh = fail
}

// SetDelay delays every resource response.
func (b *Backend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// Hits returns how many requests reached path, any method.
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// Refreshes returns how many refresh calls were received.
func (b *Backend) Refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

func (b *Backend) rotate() {
	b.generation++
	b.accessToken = fmt.Sprintf("access-%d", b.generation)
	b.refreshToken = fmt.Sprintf("refresh-%d", b.generation)
}

func (b *Backend) count() gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		b.hits[c.Request.URL.Path]++
		b.mu.Unlock()
		c.Next()
	}
}

func (b *Backend) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")

		b.mu.Lock()
		valid := token != "" && token == b.accessToken
		delay := b.delay
		b.mu.Unlock()

		if !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "access token expired"})
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		c.Next()
	}
}

func (b *Backend) refresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "refresh_token required"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes++

	if b.failRefresh || body.RefreshToken != b.refreshToken {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "refresh token invalid"})
		return
	}
	b.rotate()
	c.JSON(http.StatusOK, gin.H{
		"access_token":  b.accessToken,
		"refresh_token": b.refreshToken,
		"expires_in":    3600,
	})
}

func (b *Backend) attendance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"classId": c.Query("classId"),
		"date":    c.Query("date"),
		"records": []gin.H{
			{"studentId": 1, "present": true},
			{"studentId": 2, "present": false},
		},
	})
}

func (b *Backend) homework(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": []gin.H{{"id": 1, "title": "Fractions"}}})
}

func (b *Backend) createHomework(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "invalid homework payload"})
		return
	}
	body["id"] = 42
	c.JSON(http.StatusCreated, body)
}

func (b *Backend) lecture(c *gin.Context) {
	c.Header("Cache-Control", "max-age=60")
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "title": "Photosynthesis"})
}

func (b *Backend) export(c *gin.Context) {
	c.Data(http.StatusOK, "text/csv", []byte("studentId,present\n1,true\n2,false\n"))
}

func (b *Backend) portal(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<!DOCTYPE html><html><body>Please sign in to the campus network</body></html>"))
}
