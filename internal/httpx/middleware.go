package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/auth"
	"github.com/MikeMC777/ordenes-pagos/internal/cache"
)

const (
	ridKey   = "rid"
	actorKey = "actor"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ridKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

func RID(c *gin.Context) string { return c.GetString(ridKey) }

func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("[http]",
			zap.String("rid", RID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}

// Recovery answers a panicking handler with a 500 in the usual envelope.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		log.Error("[http] panic", zap.String("rid", RID(c)), zap.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	})
}

// Auth requires a bearer token and stores the caller for ActorFrom.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing token"})
			return
		}
		actor, err := auth.ParseToken(secret, strings.TrimSpace(tok))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		c.Set(actorKey, *actor)
		c.Next()
	}
}

func ActorFrom(c *gin.Context) auth.Actor {
	a, _ := c.Get(actorKey)
	actor, _ := a.(auth.Actor)
	return actor
}

// RateLimit allows max requests per window for each caller, keyed by the
// authenticated user when there is one and the client IP otherwise. A store
// outage lets the request through.
func RateLimit(store cache.Store, log *zap.Logger, prefix string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		who := ActorFrom(c).UserID
		if who == "" {
			who = c.ClientIP()
		}
		ok, err := store.Allow(c.Request.Context(), "ratelimit:"+prefix+":"+who, max, window)
		if err != nil {
			log.Warn("[http] rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many payment requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

// Fail writes err in the error envelope. Internal errors are logged and
// answered with a generic message.
func Fail(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal || kind == apperr.KindUpstream {
		log.Error("[http] request failed",
			zap.String("rid", RID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", kind.String()),
			zap.Error(err))
	}
	c.JSON(apperr.Status(kind), gin.H{"success": false, "message": apperr.MessageOf(err)})
}
