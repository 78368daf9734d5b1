// Package gateway is the HTTP surface: chat, reasoning and search streams
// served as server-sent events.
package gateway

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"

	"assistgen/cache"
	"assistgen/completion"
	"assistgen/search"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Partition prefixes of the two generation pipelines.
const (
	PrefixChat   = "chat"
	PrefixReason = "reason"
)

// Streamer answers a conversation within a cache partition.
type Streamer interface {
	Stream(ctx context.Context, p cache.Partition, conv completion.Conversation) (<-chan *completion.CompletionChunk, error)
}

// SearchStreamer answers a question grounded on web search.
type SearchStreamer interface {
	Stream(ctx context.Context, question string) (<-chan search.Event, error)
}

type Options struct {
	Chat   Streamer
	Reason Streamer
	// Search may be nil when no search key is configured.
	Search SearchStreamer
	// StaticDir is served for unmatched GET requests when set.
	StaticDir string
	// DebugMode mounts pprof under /debug/pprof.
	DebugMode bool
	Logger    *zap.Logger
}

type Server struct {
	engine *gin.Engine
	opts   Options
	log    *zap.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		engine: gin.New(),
		opts:   opts,
		log:    opts.Logger,
	}
	s.routes()
	return s
}

// Handler returns the http.Handler to serve.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), requestID(), accessLog(s.log), cors())

	r.POST("/chat", s.handleGenerate(PrefixChat, s.opts.Chat))
	r.POST("/reason", s.handleGenerate(PrefixReason, s.opts.Reason))
	r.POST("/search", s.handleSearch)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.opts.DebugMode {
		s.log.Info("debug mode on")
		debug := r.Group("/debug/pprof")
		debug.GET("/", gin.WrapF(pprof.Index))
		debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		debug.GET("/profile", gin.WrapF(pprof.Profile))
		debug.GET("/symbol", gin.WrapF(pprof.Symbol))
		debug.GET("/trace", gin.WrapF(pprof.Trace))
		// Index serves named profiles such as heap and goroutine
		debug.GET("/:name", gin.WrapF(pprof.Index))
	}

	if s.opts.StaticDir != "" {
		r.NoRoute(staticFiles(s.opts.StaticDir))
	}
}

func (s *Server) handleGenerate(prefix string, streamer Streamer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
			return
		}

		userID := c.GetHeader(HeaderUserID)
		if err := cache.CheckUserID(userID); err != nil {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: HeaderUserID + ": " + err.Error()})
			return
		}
		p := cache.NewPartition(prefix, userID)
		chunks, err := streamer.Stream(c.Request.Context(), p, req.Conversation())
		if err != nil {
			s.log.Error("fail to start stream", zap.Stringer("partition", p), zap.Error(err))
			c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
			return
		}

		startStream(c)
		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				s.log.Debug("client disconnected, stopping stream", zap.Stringer("partition", p))
				return
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				payload, send := chunkPayload(chunk)
				if !send {
					continue
				}
				if err := writeEvent(c, payload); err != nil {
					s.log.Debug("fail to write event", zap.Error(err))
					return
				}
			}
		}
	}
}

func (s *Server) handleSearch(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}
	if s.opts.Search == nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: "search is not configured"})
		return
	}

	events, err := s.opts.Search.Stream(c.Request.Context(), req.Messages[0].Content)
	if err != nil {
		s.log.Error("fail to start search stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	startStream(c)
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var payload any
			if ev.Results != nil {
				payload = ev.Results
			} else {
				text, send := chunkPayload(ev.Chunk)
				if !send {
					continue
				}
				payload = text
			}
			if err := writeEvent(c, payload); err != nil {
				s.log.Debug("fail to write event", zap.Error(err))
				return
			}
		}
	}
}

// staticFiles serves dir for unmatched GETs, falling back to index.html so a
// single-page frontend can route client-side.
func staticFiles(dir string) gin.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, errorResponse{Detail: "Not Found"})
			return
		}
		path := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+c.Request.URL.Path)))
		if _, err := os.Stat(path); err != nil {
			c.File(filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	}
}
