package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// MediaHandler serves downloaded outputs from a single flat directory
type MediaHandler struct {
	root string
}

// NewMediaHandler creates a new media handler rooted at dir
func NewMediaHandler(dir string) *MediaHandler {
	return &MediaHandler{root: dir}
}

// Serve streams /media/:name. Names carrying any path component are refused.
func (h *MediaHandler) Serve(c *gin.Context) {
	name := c.Param("name")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	path := filepath.Join(h.root, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if c.Query("download") != "" {
		c.FileAttachment(path, name)
		return
	}
	c.File(path)
}
