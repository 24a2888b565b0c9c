// middleware/brotli.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

type BrotliConfig struct {
	Quality   int
	Skipper   func(c *gin.Context) bool
	MinLength int
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// brotliWriter holds the body back until it knows whether the response is
// large enough to compress. Once decided, the choice holds for the whole body.
type brotliWriter struct {
	gin.ResponseWriter
	quality   int
	minLength int
	buf       []byte
	enc       *brotli.Writer
	decided   bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.decided {
		if bw.enc != nil {
			return bw.enc.Write(data)
		}
		return bw.ResponseWriter.Write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) >= bw.minLength {
		if err := bw.decide(true); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// WriteHeaderNow keeps gin from committing headers before the encoding is chosen.
func (bw *brotliWriter) WriteHeaderNow() {}

// Flush commits to the current choice and pushes out what is buffered.
func (bw *brotliWriter) Flush() {
	if !bw.decided {
		_ = bw.decide(len(bw.buf) >= bw.minLength)
	}
	if bw.enc != nil {
		_ = bw.enc.Flush()
	}
	bw.ResponseWriter.Flush()
}

func (bw *brotliWriter) decide(compress bool) error {
	bw.decided = true
	if compress && bw.compressible() {
		h := bw.ResponseWriter.Header()
		h.Set("Content-Encoding", "br")
		h.Del("Content-Length")
		bw.enc = brotli.NewWriterLevel(bw.ResponseWriter, bw.quality)
		_, err := bw.enc.Write(bw.buf)
		bw.buf = nil
		return err
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	bw.buf = nil
	return err
}

func (bw *brotliWriter) compressible() bool {
	if bw.ResponseWriter.Header().Get("Content-Encoding") != "" {
		return false
	}
	status := bw.ResponseWriter.Status()
	return status != http.StatusNoContent && status != http.StatusNotModified
}

func (bw *brotliWriter) close() error {
	if !bw.decided {
		if err := bw.decide(false); err != nil {
			return err
		}
	}
	if bw.enc != nil {
		return bw.enc.Close()
	}
	return nil
}

func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if isStream(c) || (cfg.Skipper != nil && cfg.Skipper(c)) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			quality:        cfg.Quality,
			minLength:      cfg.MinLength,
		}
		c.Writer = bw
		defer func() {
			if err := bw.close(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Next()
	}
}

// isStream reports SSE and WebSocket requests, which must not be buffered.
func isStream(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
