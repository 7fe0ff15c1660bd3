package middleware

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
)

// ErrorLog logs the errors handlers attached with c.Error, which
// shared.SendError does for every internal failure. l may be nil.
func ErrorLog(l *log.Logger) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "[API] ", log.LstdFlags)
	}
	return func(c *gin.Context) {
		c.Next()
		for _, e := range c.Errors {
			l.Printf("%s %s [%s]: %v", c.Request.Method, c.FullPath(), GetRequestID(c), e.Err)
		}
	}
}
